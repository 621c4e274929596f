package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"

	"expander/internal/scheduler"
	"expander/internal/sqlinline"
	"expander/pkg/zip"
)

// ExpansionArchive bundles every generated image of the finished batch into a
// zip download. Images are fetched from their CDN URLs and cached through the
// file store so repeated downloads do not re-fetch.
func (a *App) ExpansionArchive(w http.ResponseWriter, r *http.Request) {
	state := a.Runner.Snapshot()
	if state.Running {
		a.error(w, http.StatusConflict, "batch_active", "wait for the batch to finish before archiving")
		return
	}
	var ids []string
	for _, item := range state.Items {
		if item.Status == scheduler.StatusDone {
			ids = append(ids, item.ProductID)
		}
	}
	if len(ids) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "no generated images to archive")
		return
	}
	if a.SQL == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "persistence not configured")
		return
	}

	rows, err := a.SQL.Query(r.Context(), sqlinline.QSelectGeneratedImages, ids)
	if err != nil {
		a.Logger.Error().Err(err).Msg("expansions: select generated images failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load generated images")
		return
	}
	defer rows.Close()

	var assets []zip.Asset
	counts := make(map[string]int)
	for rows.Next() {
		var productID, imageType, imageURL string
		if err := rows.Scan(&productID, &imageType, &imageURL); err != nil {
			a.error(w, http.StatusInternalServerError, "internal", "failed to load generated images")
			return
		}
		counts[productID]++
		data, err := a.fetchImage(r.Context(), productID, imageURL, counts[productID])
		if err != nil {
			a.Logger.Warn().Err(err).Str("product_id", productID).Msg("expansions: skipping unreachable image")
			continue
		}
		assets = append(assets, zip.Asset{
			Filename: fmt.Sprintf("%s/%s-%02d%s", productID, imageType, counts[productID], extensionForURL(imageURL)),
			Data:     data,
		})
	}
	if len(assets) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "no generated images to archive")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="expansion-images.zip"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(zip.ArchiveAssets(assets))
}

func (a *App) fetchImage(ctx context.Context, productID, imageURL string, n int) ([]byte, error) {
	key := fmt.Sprintf("expansions/%s/%02d%s", productID, n, extensionForURL(imageURL))
	if a.Store != nil {
		if data, err := a.Store.Read(ctx, key); err == nil {
			return data, nil
		}
	}

	client := a.Fetcher
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: http %d", imageURL, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if a.Store != nil {
		if _, err := a.Store.Write(ctx, key, data); err != nil {
			a.Logger.Warn().Err(err).Str("product_id", productID).Msg("expansions: cache image failed")
		}
	}
	return data, nil
}

func extensionForURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ".img"
	}
	if ext := path.Ext(u.Path); ext != "" {
		return ext
	}
	return ".img"
}
