package fingerprint

import "strings"

// tokenKeys are storage key names that indicate an auth token is present.
var tokenKeys = []string{
	"token", "access_token", "auth_token", "jwt", "accesstoken", "authtoken",
}

// InferAuthState derives an authentication summary from storage contents.
// It only looks at key names (and selected values) so the result is stable
// across token refreshes with the same shape.
func InferAuthState(local, session map[string]string) AuthState {
	auth := AuthState{}

	all := make(map[string]string, len(local)+len(session))
	for k, v := range local {
		all[k] = v
	}
	for k, v := range session {
		all[k] = v
	}

	// Iterate in sorted order so the summary is deterministic when several
	// keys match the same heuristic.
	for _, k := range sortedKeys(all) {
		lower := strings.ToLower(k)
		for _, tk := range tokenKeys {
			if lower == tk {
				auth.HasToken = true
				auth.IsLoggedIn = true
			}
		}
		switch {
		case strings.Contains(lower, "role"):
			auth.UserRole = all[k]
		case strings.Contains(lower, "plan"):
			auth.Plan = all[k]
		case strings.Contains(lower, "tenant"):
			auth.Tenant = all[k]
		}
	}

	return auth
}
