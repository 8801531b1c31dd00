package rest

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/italolelis/yt_downloader/internal/delivery"
	"github.com/italolelis/yt_downloader/internal/downloader"
	"github.com/italolelis/yt_downloader/internal/logctx"
	"github.com/italolelis/yt_downloader/internal/media"
)

const (
	errSearchFailed   = "search failed"
	errDownloadFailed = "download failed"
)

type Searcher interface {
	Search(ctx context.Context, rawQuery string) ([]media.SearchResult, error)
	Suggest(ctx context.Context, rawQuery string) ([]string, error)
	Random(ctx context.Context) ([]media.SearchResult, error)
}

type Acquirer interface {
	Acquire(ctx context.Context, req media.DownloadRequest) (*downloader.Job, error)
}

// ServiceDescriptor is the body of GET /.
type ServiceDescriptor struct {
	Service   string            `json:"service"`
	Status    string            `json:"status"`
	Endpoints map[string]string `json:"endpoints"`
}

type MediaHandler struct {
	search   Searcher
	acquirer Acquirer
	deliver  func(ctx context.Context, w http.ResponseWriter, job *downloader.Job) error
}

// NewMediaHandler creates the handler for the search and download API.
func NewMediaHandler(search Searcher, acquirer Acquirer) *MediaHandler {
	return &MediaHandler{
		search:   search,
		acquirer: acquirer,
		deliver:  delivery.Serve,
	}
}

func (h *MediaHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(Recoverer)
	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/", h.HandleIndex)
	r.Get("/health", h.HandleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/search", h.HandleSearch)
		r.Get("/suggest", h.HandleSuggest)
		r.Get("/random_suggestions", h.HandleRandomSuggestions)
		r.Get("/download", h.HandleDownload)
	})

	return r
}

func (h *MediaHandler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, ServiceDescriptor{
		Service: "yt_downloader",
		Status:  "running",
		Endpoints: map[string]string{
			"search":             "/api/search?q=[query]",
			"suggest":            "/api/suggest?q=[query]",
			"random_suggestions": "/api/random_suggestions",
			"download":           "/api/download?url=[url]&format=[mp3/mp4]",
		},
	})
}

func (h *MediaHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *MediaHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	results, err := h.search.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, r, err, errSearchFailed)

		return
	}

	writeJSON(w, r, http.StatusOK, results)
}

func (h *MediaHandler) HandleSuggest(w http.ResponseWriter, r *http.Request) {
	titles, err := h.search.Suggest(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, r, err, errSearchFailed)

		return
	}

	writeJSON(w, r, http.StatusOK, titles)
}

func (h *MediaHandler) HandleRandomSuggestions(w http.ResponseWriter, r *http.Request) {
	results, err := h.search.Random(r.Context())
	if err != nil {
		writeError(w, r, err, errSearchFailed)

		return
	}

	writeJSON(w, r, http.StatusOK, results)
}

// HandleDownload acquires the media and streams it back. Errors after the
// body has started cannot change the response and are only logged.
func (h *MediaHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())
	q := r.URL.Query()

	req := media.DownloadRequest{
		MediaRef: q.Get("url"),
		Format:   media.ParseFormat(q.Get("format")),
	}

	logger.InfoContext(r.Context(), "download requested", "format", req.Format.String())

	job, err := h.acquirer.Acquire(r.Context(), req)
	if err != nil {
		writeError(w, r, err, errDownloadFailed)

		return
	}

	if err := h.deliver(r.Context(), w, job); err != nil {
		if errors.Is(err, delivery.ErrInterrupted) {
			logger.WarnContext(r.Context(), "client stream ended early", "job_id", job.ID, "err", err)

			return
		}

		writeError(w, r, err, errDownloadFailed)
	}
}
