package sqlinline

const QInsertGeneratedImage = `--sql 3c192f10-7e38-4abb-a84e-39f54b9162df
insert into product_images(
    id,
    product_id,
    image_type,
    url,
    created_at
)
values (
    gen_random_uuid(),
    $1,
    $2,
    $3,
    now()
)
on conflict (product_id, url) do nothing;
`

const QRecordExpansionResult = `--sql 6d1e88a4-4d6a-4f01-b706-96323f5feae0
insert into expansion_results(
    id,
    product_id,
    succeeded,
    generated_count,
    error_message,
    created_at
)
values (
    gen_random_uuid(),
    $1,
    $2,
    $3,
    nullif($4, ''),
    now()
);
`

const QSelectGeneratedImages = `--sql 106dc56a-ad07-4be9-b251-64565ddbdc14
select product_id, image_type, url
from product_images
where product_id = any($1)
order by product_id, created_at asc;
`
