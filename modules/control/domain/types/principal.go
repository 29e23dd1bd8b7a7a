package types

// Principal is a resolved credential: one API client bound to one project
// with a set of granted scopes. Credential decryption and key storage live
// behind the CredentialResolver port; the engine only ever sees this struct.
type Principal struct {
	ClientID   string   `json:"client_id"`
	ClientName string   `json:"client_name"`
	ProjectID  string   `json:"project_id"`
	Scopes     []string `json:"scopes"`
}

func (p Principal) Actor() string {
	if p.ClientName != "" {
		return p.ClientName
	}
	return p.ClientID
}
