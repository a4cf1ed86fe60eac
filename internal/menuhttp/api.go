package menuhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-menu/internal/content"
	"github.com/keithlinneman/linnemanlabs-menu/internal/contentmap"
	"github.com/keithlinneman/linnemanlabs-menu/internal/contentpath"
	"github.com/keithlinneman/linnemanlabs-menu/internal/log"
	"github.com/keithlinneman/linnemanlabs-menu/internal/menu"
	"github.com/keithlinneman/linnemanlabs-menu/internal/nearest"
)

const maxLevels = 10

// SnapshotProvider exposes the active snapshot. Implemented by *content.Manager.
type SnapshotProvider interface {
	Get() (*content.Snapshot, bool)
}

type Options struct {
	// Store answers lookups, usually a persistent store mirroring the
	// active snapshot. Nil serves each request from the snapshot it
	// started with.
	Store   menu.Store
	Content SnapshotProvider
	// URLs renders links. A zero Root makes links relative to the site of
	// the active snapshot.
	URLs menu.URLBuilder
	// Observer receives every nearest content resolution (metrics).
	Observer nearest.Observer
	// Levels is the menu depth when the request does not set ?levels.
	Levels int
	Logger log.Logger
}

// API implements the menu endpoints
type API struct {
	store    menu.Store
	content  SnapshotProvider
	urls     menu.URLBuilder
	observer nearest.Observer
	levels   int
	logger   log.Logger
}

func NewAPI(opts Options) *API {
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}
	levels := opts.Levels
	if levels <= 0 {
		levels = 1
	}
	return &API{
		store:    opts.Store,
		content:  opts.Content,
		urls:     opts.URLs,
		observer: opts.Observer,
		levels:   levels,
		logger:   logger,
	}
}

// RegisterRoutes attaches the menu endpoints to the router
func (api *API) RegisterRoutes(r chi.Router) {
	r.Get("/api/content/info", api.HandleInfo)
	r.Get("/api/content/nearest/*", api.HandleNearest)
	r.Get("/api/menu/breadcrumbs/*", api.HandleBreadcrumbs)
	r.Get("/api/menu/tree/*", api.HandleTree)
	r.Get("/api/menu/children/*", api.HandleChildren)
}

type errorResponse struct {
	Error string `json:"error"`
}

// InfoResponse describes the active content snapshot.
type InfoResponse struct {
	Version       string         `json:"version"`
	Hash          string         `json:"hash"`
	HashAlgorithm string         `json:"hash_algorithm,omitempty"`
	Signed        bool           `json:"signed"`
	Source        content.Source `json:"source"`
	Site          string         `json:"site"`
	Items         int            `json:"items"`
	LoadedAt      time.Time      `json:"loaded_at"`
	VerifiedAt    time.Time      `json:"verified_at,omitzero"`
	ServerTime    time.Time      `json:"server_time"`
}

func (api *API) HandleInfo(w http.ResponseWriter, r *http.Request) {
	snap, ok := api.content.Get()
	if !ok {
		api.writeError(r.Context(), w, http.StatusServiceUnavailable, "no content loaded")
		return
	}
	api.writeJSON(r.Context(), w, http.StatusOK, InfoResponse{
		Version:       snap.Meta.Version,
		Hash:          snap.Meta.Hash,
		HashAlgorithm: snap.Meta.HashAlgorithm,
		Signed:        snap.Meta.Signed,
		Source:        snap.Meta.Source,
		Site:          snap.Site.String(),
		Items:         snap.Tree.Len(),
		LoadedAt:      snap.LoadedAt.Truncate(time.Second),
		VerifiedAt:    snap.Meta.VerifiedAt.Truncate(time.Second),
		ServerTime:    time.Now().UTC().Truncate(time.Second),
	})
}

// HandleNearest serves the mapped nearest content, 404 when there is none.
func (api *API) HandleNearest(w http.ResponseWriter, r *http.Request) {
	req, ok := api.begin(w, r)
	if !ok {
		return
	}
	item, found, ok := api.resolve(w, r, req)
	if !ok {
		return
	}
	view, found := contentmap.Map(item, found)
	if !found {
		api.writeError(r.Context(), w, http.StatusNotFound, "no content found")
		return
	}
	api.writeJSON(r.Context(), w, http.StatusOK, view)
}

// HandleBreadcrumbs serves the breadcrumb trail of the nearest content.
// Query: linkActiveItem, hideHomepage, homepageTitle, dividerHtml, urlType, ariaLabel.
func (api *API) HandleBreadcrumbs(w http.ResponseWriter, r *http.Request) {
	req, ok := api.begin(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	opts := menu.BreadcrumbOptions{
		HomepageTitle: q.Get("homepageTitle"),
		DividerHTML:   q.Get("dividerHtml"),
		URLType:       menu.ParseURLType(q.Get("urlType")),
		AriaLabel:     q.Get("ariaLabel"),
	}
	var err error
	if opts.LinkActiveItem, err = queryBool(q, "linkActiveItem"); err != nil {
		api.writeError(r.Context(), w, http.StatusBadRequest, err.Error())
		return
	}
	if opts.HideHomepage, err = queryBool(q, "hideHomepage"); err != nil {
		api.writeError(r.Context(), w, http.StatusBadRequest, err.Error())
		return
	}

	current, found, ok := api.resolve(w, r, req)
	if !ok {
		return
	}
	if !found {
		// nothing to trail from
		label := opts.AriaLabel
		if label == "" {
			label = "breadcrumbs"
		}
		api.writeJSON(r.Context(), w, http.StatusOK, menu.Breadcrumb{
			Divider:   opts.DividerHTML,
			AriaLabel: label,
			Items:     []menu.Crumb{},
		})
		return
	}
	site, ok := api.site(w, r, req)
	if !ok {
		return
	}

	bc, err := req.builder.Breadcrumbs(r.Context(), site, current, opts)
	if err != nil {
		api.storeFailed(w, r, err, "build breadcrumbs")
		return
	}
	api.writeJSON(r.Context(), w, http.StatusOK, bc)
}

// HandleTree serves the site menu with the nearest content marked.
// Query: levels, urlType, returnContent, ariaLabel.
func (api *API) HandleTree(w http.ResponseWriter, r *http.Request) {
	req, ok := api.begin(w, r)
	if !ok {
		return
	}
	levels, opts, ok := api.menuQuery(w, r)
	if !ok {
		return
	}
	current, found, ok := api.resolve(w, r, req)
	if !ok {
		return
	}
	site, ok := api.site(w, r, req)
	if !ok {
		return
	}
	active := contentpath.Root
	if found {
		active = current.Path
	}

	tree, err := req.builder.Tree(r.Context(), site, active, levels, opts)
	if err != nil {
		api.storeFailed(w, r, err, "build menu tree")
		return
	}
	api.writeJSON(r.Context(), w, http.StatusOK, tree)
}

// HandleChildren serves the submenus below the nearest content, an empty
// list when there is none.
func (api *API) HandleChildren(w http.ResponseWriter, r *http.Request) {
	req, ok := api.begin(w, r)
	if !ok {
		return
	}
	levels, opts, ok := api.menuQuery(w, r)
	if !ok {
		return
	}
	current, found, ok := api.resolve(w, r, req)
	if !ok {
		return
	}
	if !found {
		api.writeJSON(r.Context(), w, http.StatusOK, []menu.Item{})
		return
	}

	items, err := req.builder.SubMenus(r.Context(), current, current.Path, levels, opts)
	if err != nil {
		api.storeFailed(w, r, err, "build submenus")
		return
	}
	api.writeJSON(r.Context(), w, http.StatusOK, items)
}

// requestState carries what begin extracted from the request.
type requestState struct {
	path    contentpath.Path
	snap    *content.Snapshot
	store   menu.Store
	builder *menu.Builder
}

// begin checks content is loaded and parses the wildcard path.
func (api *API) begin(w http.ResponseWriter, r *http.Request) (requestState, bool) {
	snap, ok := api.content.Get()
	if !ok {
		api.writeError(r.Context(), w, http.StatusServiceUnavailable, "no content loaded")
		return requestState{}, false
	}
	p, err := RequestPath(r)
	if err != nil {
		api.writeError(r.Context(), w, http.StatusBadRequest, "invalid content path")
		return requestState{}, false
	}
	urls := api.urls
	if urls.Root.IsRoot() {
		urls.Root = snap.Site
	}
	var store menu.Store = content.TreeStore{Tree: snap.Tree}
	if api.store != nil {
		store = api.store
	}
	return requestState{path: p, snap: snap, store: store, builder: menu.NewBuilder(store, urls)}, true
}

func (api *API) resolve(w http.ResponseWriter, r *http.Request, req requestState) (content.Item, bool, bool) {
	res := nearest.New(nearest.FixedPath(req.path), req.store, nearest.Options{Observer: api.observer})
	item, found, err := res.Resolve(r.Context())
	if err != nil {
		api.storeFailed(w, r, err, "resolve nearest content", "path", req.path.String())
		return content.Item{}, false, false
	}
	return item, found, true
}

func (api *API) site(w http.ResponseWriter, r *http.Request, req requestState) (content.Item, bool) {
	site, err := req.store.GetByPath(r.Context(), req.snap.Site)
	if err != nil {
		api.storeFailed(w, r, err, "load site", "site", req.snap.Site.String())
		return content.Item{}, false
	}
	return site, true
}

func (api *API) menuQuery(w http.ResponseWriter, r *http.Request) (int, menu.Options, bool) {
	q := r.URL.Query()
	levels := api.levels
	if s := q.Get("levels"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxLevels {
			api.writeError(r.Context(), w, http.StatusBadRequest, "levels must be between 1 and 10")
			return 0, menu.Options{}, false
		}
		levels = n
	}
	opts := menu.Options{
		URLType:   menu.ParseURLType(q.Get("urlType")),
		AriaLabel: q.Get("ariaLabel"),
	}
	var err error
	if opts.ReturnContent, err = queryBool(q, "returnContent"); err != nil {
		api.writeError(r.Context(), w, http.StatusBadRequest, err.Error())
		return 0, menu.Options{}, false
	}
	return levels, opts, true
}

// storeFailed answers 503 when content went away mid-request and 500 for
// anything else.
func (api *API) storeFailed(w http.ResponseWriter, r *http.Request, err error, msg string, kv ...any) {
	ctx := r.Context()
	if errors.Is(err, content.ErrNoSnapshot) {
		api.writeError(ctx, w, http.StatusServiceUnavailable, "no content loaded")
		return
	}
	log.FromContext(ctx).Error(ctx, err, msg, kv...)
	api.writeError(ctx, w, http.StatusInternalServerError, "internal server error")
}

// RequestPath parses the content path matched by the route wildcard.
func RequestPath(r *http.Request) (contentpath.Path, error) {
	rest := chi.URLParam(r, "*")
	if r.URL.RawPath != "" {
		// chi matched on the escaped path
		u, err := url.PathUnescape(rest)
		if err != nil {
			return contentpath.Path{}, err
		}
		rest = u
	}
	return contentpath.Parse("/" + rest)
}

func queryBool(q url.Values, key string) (bool, error) {
	s := q.Get(key)
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, errors.New(key + " must be a boolean")
	}
	return b, nil
}

func (api *API) writeError(ctx context.Context, w http.ResponseWriter, status int, msg string) {
	api.writeJSON(ctx, w, status, errorResponse{Error: msg})
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
