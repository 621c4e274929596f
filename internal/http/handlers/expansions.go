package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"expander/internal/domain"
	"expander/internal/middleware"
	"expander/internal/scheduler"
	"expander/internal/sqlinline"
)

type expandProductRequest struct {
	ProductID         string `json:"product_id"`
	SourceImageURL    string `json:"source_image_url"`
	Mode              string `json:"mode"`
	CurrentImageCount int    `json:"current_image_count"`
}

type expandBatchRequest struct {
	Products []expandProductRequest `json:"products"`
}

func (a *App) StartExpansion(w http.ResponseWriter, r *http.Request) {
	var req expandBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if len(req.Products) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "no products submitted")
		return
	}

	jobs := make([]scheduler.Job, 0, len(req.Products))
	for _, p := range req.Products {
		product := domain.Product{
			ID:                p.ProductID,
			SourceImageURL:    p.SourceImageURL,
			Mode:              domain.NormalizeExpansionMode(p.Mode),
			CurrentImageCount: p.CurrentImageCount,
		}
		if err := product.Validate(); err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		jobs = append(jobs, scheduler.Job{
			ProductID:         product.ID,
			SourceImageURL:    product.SourceImageURL,
			Mode:              product.Mode,
			CurrentImageCount: product.CurrentImageCount,
		})
	}

	if err := a.Runner.Start(a.runCtx(), jobs, a.persistItem); err != nil {
		switch {
		case errors.Is(err, domain.ErrBatchActive):
			a.error(w, http.StatusConflict, "batch_active", "an expansion batch is already running")
		case errors.Is(err, domain.ErrInvalidProduct):
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		default:
			a.Logger.Error().Err(err).Msg("expansions: failed to start batch")
			a.error(w, http.StatusInternalServerError, "internal", "failed to start expansion batch")
		}
		return
	}
	a.json(w, http.StatusAccepted, map[string]any{"status": "running", "total": len(jobs)})
}

// persistItem is the scheduler's onItemDone hook: it records each claimed
// job's outcome and stores generated image URLs for later retrieval.
func (a *App) persistItem(productID string, res scheduler.Result) {
	if a.SQL == nil {
		return
	}
	ctx := a.runCtx()
	for _, img := range res.Images {
		if _, err := a.SQL.Exec(ctx, sqlinline.QInsertGeneratedImage, productID, img.Type, img.URL); err != nil {
			a.Logger.Error().Err(err).Str("product_id", productID).Msg("expansions: insert generated image failed")
		}
	}
	errMsg := ""
	if res.Failure != nil {
		errMsg = res.Failure.Message
	}
	if _, err := a.SQL.Exec(ctx, sqlinline.QRecordExpansionResult, productID, res.Success(), len(res.Images), errMsg); err != nil {
		a.Logger.Error().Err(err).Str("product_id", productID).Msg("expansions: record result failed")
	}
}

func (a *App) ExpansionProgress(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, a.Runner.Snapshot())
}

func (a *App) CancelExpansion(w http.ResponseWriter, r *http.Request) {
	a.Runner.Cancel()
	a.json(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (a *App) DismissExpansion(w http.ResponseWriter, r *http.Request) {
	if err := a.Runner.Dismiss(); err != nil {
		a.error(w, http.StatusConflict, "batch_active", "cannot dismiss while a batch is running")
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "dismissed"})
}

var modeLabelsID = map[domain.ExpansionMode]string{
	domain.ExpansionModeLifestyle: "Gaya Hidup",
	domain.ExpansionModeStudio:    "Studio",
	domain.ExpansionModeDetail:    "Detail Produk",
	domain.ExpansionModeAngle:     "Sudut Lain",
}

func (a *App) ExpansionModes(w http.ResponseWriter, r *http.Request) {
	locale := middleware.LocaleFromContext(r.Context())
	titler := cases.Title(language.English)

	modes := domain.ExpansionModes()
	out := make([]map[string]string, 0, len(modes))
	for _, mode := range modes {
		label := titler.String(string(mode))
		if locale == "id" {
			if translated, ok := modeLabelsID[mode]; ok {
				label = translated
			}
		}
		out = append(out, map[string]string{"mode": string(mode), "label": label})
	}
	a.json(w, http.StatusOK, map[string]any{"modes": out})
}
