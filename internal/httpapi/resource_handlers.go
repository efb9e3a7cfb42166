package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"switchboard.dev/internal/bulk"
	"switchboard.dev/internal/journal"
	"switchboard.dev/internal/paging"
	"switchboard.dev/internal/patch"
	"switchboard.dev/internal/permission"
	"switchboard.dev/internal/resource"
)

// presenter is implemented by kinds whose entities need a client view,
// for example to hide secrets.
type presenter[E any] interface {
	Present(E) any
}

type resourceHandler[E, D any] struct {
	svc     *resource.Service[E, D]
	base    string
	present func(E) any
}

// Mount registers the REST routes of svc under {prefix}/{name}.
func Mount[E, D any](a *API, svc *resource.Service[E, D]) {
	h := &resourceHandler[E, D]{
		svc:     svc,
		base:    a.prefix + "/" + svc.Name(),
		present: func(e E) any { return e },
	}
	if p, ok := any(svc.Kind()).(presenter[E]); ok {
		h.present = p.Present
	}

	r := a.router
	r.HandleFunc(h.base, h.create).Methods(http.MethodPost)
	r.HandleFunc(h.base, h.list).Methods(http.MethodGet)
	r.HandleFunc(h.base, h.replaceMany).Methods(http.MethodPut)
	r.HandleFunc(h.base, h.patchMany).Methods(http.MethodPatch)
	r.HandleFunc(h.base, h.deleteMany).Methods(http.MethodDelete)
	r.HandleFunc(h.base+"/{id}", h.read).Methods(http.MethodGet)
	r.HandleFunc(h.base+"/{id}", h.replaceOne).Methods(http.MethodPut)
	r.HandleFunc(h.base+"/{id}", h.patchOne).Methods(http.MethodPatch)
	r.HandleFunc(h.base+"/{id}", h.deleteOne).Methods(http.MethodDelete)
	r.HandleFunc(h.base+"/{id}/journal", h.journal).Methods(http.MethodGet)
}

func pathID(r *http.Request) (int64, error) {
	return bulk.ParseID(mux.Vars(r)["id"])
}

func (h *resourceHandler[E, D]) presentAll(es []E) []any {
	out := make([]any, len(es))
	for i, e := range es {
		out[i] = h.present(e)
	}
	return out
}

func (h *resourceHandler[E, D]) presentMutations(ms []bulk.Mutation[E]) []any {
	out := make([]any, len(ms))
	for i, m := range ms {
		out[i] = h.present(m.New)
	}
	return out
}

func (h *resourceHandler[E, D]) create(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	items, many, err := decodeOneOrMany[D](data)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	created, err := h.svc.Create(r.Context(), items)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if many {
		writeJSON(w, http.StatusCreated, h.presentAll(created))
		return
	}
	w.Header().Set("Location", fmt.Sprintf("%s/%d", h.base, h.svc.Kind().ID(created[0])))
	writeJSON(w, http.StatusCreated, h.present(created[0]))
}

func (h *resourceHandler[E, D]) list(w http.ResponseWriter, r *http.Request) {
	page, err := paging.FromQuery(r.URL.Query())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	items, total, err := h.svc.ReadAll(r.Context(), page)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{TotalCount: total, Data: h.presentAll(items)})
}

func (h *resourceHandler[E, D]) read(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	e, err := h.svc.Read(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.present(e))
}

func (h *resourceHandler[E, D]) replaceOne(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	data, err := readBody(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	var dto D
	if err := decodeStrict(data, &dto); err != nil {
		handleServiceError(w, r, err)
		return
	}
	ms, err := h.svc.Update(r.Context(), bulk.Single(id, dto))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.present(ms[0].New))
}

func (h *resourceHandler[E, D]) replaceMany(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	var k bulk.Keyed[D]
	if err := decodeStrict(data, &k); err != nil {
		handleServiceError(w, r, err)
		return
	}
	ms, err := h.svc.Update(r.Context(), k)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.presentMutations(ms))
}

func (h *resourceHandler[E, D]) patchOne(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	data, err := readBody(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	ops, err := patch.Parse(data)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	ms, err := h.svc.Adjust(r.Context(), bulk.Single(id, ops))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.present(ms[0].New))
}

func (h *resourceHandler[E, D]) patchMany(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	var k bulk.Keyed[patch.Ops]
	if err := decodeStrict(data, &k); err != nil {
		handleServiceError(w, r, err)
		return
	}
	ms, err := h.svc.Adjust(r.Context(), k)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.presentMutations(ms))
}

func (h *resourceHandler[E, D]) deleteOne(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if _, err := h.svc.Delete(r.Context(), []int64{id}); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *resourceHandler[E, D]) deleteMany(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	var ids []int64
	if err := decodeStrict(data, &ids); err != nil {
		handleServiceError(w, r, err)
		return
	}
	ms, err := h.svc.Delete(r.Context(), ids)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bulk.IDs(ms))
}

func (h *resourceHandler[E, D]) journal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	page, err := paging.FromQuery(r.URL.Query())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	entries, total, err := h.svc.Journal(r.Context(), id, page)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{TotalCount: total, Data: entries})
}

func (a *API) handleJournals(w http.ResponseWriter, r *http.Request) {
	f, err := permission.FromContext(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	page, err := paging.FromQuery(r.URL.Query())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	q := journal.Query{ResourceName: r.URL.Query().Get("resource_name"), Page: page}
	if raw := r.URL.Query().Get("resource_id"); raw != "" {
		id, err := bulk.ParseID(raw)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		q.ResourceID = &id
	}
	entries, total, err := a.journal.List(r.Context(), q, f)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{TotalCount: total, Data: entries})
}
