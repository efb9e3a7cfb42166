package httpapi

import (
	"net/http"

	"switchboard.dev/internal/rulesets"
)

// MountRuleSets registers the rule-set resource and the cached per-reseller listing.
func MountRuleSets(a *API, svc *rulesets.Service) {
	Mount(a, svc.Service)
	a.router.HandleFunc(a.prefix+"/resellers/{id}/header-rule-sets", func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		sets, err := svc.ForReseller(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		if sets == nil {
			sets = []rulesets.RuleSet{}
		}
		writeJSON(w, http.StatusOK, listResponse{TotalCount: len(sets), Data: sets})
	}).Methods(http.MethodGet)
}
