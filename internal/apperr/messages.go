package apperr

import (
	"strings"
)

// DefaultLanguage is used when the requested language has no catalog or no entry for a code.
const DefaultLanguage = "en"

var catalog = map[string]map[string]string{
	"en": {
		CodeInternal:              "internal server error",
		CodeInvalidJSON:           "request body is not valid JSON",
		CodeInvalidID:             "invalid identifier",
		CodeInvalidPatch:          "invalid patch operation",
		CodeInvalidField:          "invalid field value",
		CodeUnauthorized:          "authentication required",
		CodeInvalidCredentials:    "invalid login or password",
		CodePermissionDenied:      "permission denied",
		CodeReadOnly:              "read-only access",
		CodeDeleteOwnUser:         "cannot delete own user",
		CodeDeleteSpecialUser:     "cannot delete built-in user",
		CodeInvalidUserRole:       "invalid user role",
		CodeChangeOwnProperty:     "cannot change own property",
		CodeChangeResellerDenied:  "cannot move entry to another reseller",
		CodeEntryNotFound:         "entry not found",
		CodeDuplicateEntry:        "duplicate entry",
		CodeReferenceInvalid:      "referenced entry does not exist",
		CodeResellerIDInvalid:     "invalid reseller_id",
		CodeContactActiveContract: "contact has active contracts",
		CodePasswordAlreadyUsed:   "password was used recently",
		CodeJournalWriteFailed:    "could not write journal entry",
		CodeMethodNotAllowed:      "method not allowed",
		CodeRateLimited:           "rate limit exceeded",
		CodeServiceUnavailable:    "service unavailable",
	},
	"de": {
		CodeInternal:              "interner Serverfehler",
		CodeInvalidJSON:           "Anfrage ist kein gültiges JSON",
		CodeInvalidID:             "ungültige ID",
		CodeInvalidPatch:          "ungültige Patch-Operation",
		CodeInvalidField:          "ungültiger Feldwert",
		CodeUnauthorized:          "Authentifizierung erforderlich",
		CodeInvalidCredentials:    "ungültiger Benutzername oder Passwort",
		CodePermissionDenied:      "Zugriff verweigert",
		CodeReadOnly:              "nur Lesezugriff",
		CodeDeleteOwnUser:         "eigener Benutzer kann nicht gelöscht werden",
		CodeDeleteSpecialUser:     "eingebauter Benutzer kann nicht gelöscht werden",
		CodeInvalidUserRole:       "ungültige Benutzerrolle",
		CodeChangeOwnProperty:     "eigene Eigenschaft kann nicht geändert werden",
		CodeChangeResellerDenied:  "Eintrag kann nicht zu einem anderen Reseller verschoben werden",
		CodeEntryNotFound:         "Eintrag nicht gefunden",
		CodeDuplicateEntry:        "doppelter Eintrag",
		CodeReferenceInvalid:      "referenzierter Eintrag existiert nicht",
		CodeResellerIDInvalid:     "ungültige reseller_id",
		CodeContactActiveContract: "Kontakt hat aktive Verträge",
		CodePasswordAlreadyUsed:   "Passwort wurde kürzlich verwendet",
		CodeJournalWriteFailed:    "Journaleintrag konnte nicht geschrieben werden",
	},
	"es": {
		CodeInternal:          "error interno del servidor",
		CodePermissionDenied:  "permiso denegado",
		CodeDeleteOwnUser:     "no se puede eliminar el propio usuario",
		CodeChangeOwnProperty: "no se puede cambiar la propiedad propia",
		CodeEntryNotFound:     "entrada no encontrada",
		CodeInvalidPatch:      "operación de parche no válida",
	},
}

// Message resolves code into a human-readable text for lang, falling back to English and then to the code itself.
func Message(lang, code string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	if msgs, ok := catalog[lang]; ok {
		if msg, ok := msgs[code]; ok {
			return msg
		}
	}
	if msg, ok := catalog[DefaultLanguage][code]; ok {
		return msg
	}
	return code
}
