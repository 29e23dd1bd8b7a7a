package authz

// Capabilities the engine checks. Objects group by surface, actions stay
// coarse: one capability per operation in the public contract.
var (
	CapCommandExecute  = Capability{Object: "command", Action: "execute"}
	CapCommandSchedule = Capability{Object: "command", Action: "schedule"}
	CapCommandOverride = Capability{Object: "command", Action: "override"}
	CapAssetSetMode    = Capability{Object: "asset", Action: "set_mode"}
	CapKillSwitchRead  = Capability{Object: "killswitch", Action: "read"}
	CapKillSwitchWrite = Capability{Object: "killswitch", Action: "toggle"}
	CapPolicyRead      = Capability{Object: "policy", Action: "read"}
	CapPolicyWrite     = Capability{Object: "policy", Action: "write"}
	CapAuditRead       = Capability{Object: "audit", Action: "read"}
)

// ScopeDefinition documents one grantable API scope for the scope catalogue
// endpoint.
type ScopeDefinition struct {
	Scope       string `json:"scope"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

const (
	ScopeAssetCommand     = "asset:command"
	ScopeAssetOverride    = "asset:override"
	ScopeAssetWrite       = "asset:write"
	ScopeAdminKillSwitch  = "admin:killswitch"
	ScopeAdminPolicyRead  = "admin:policy:read"
	ScopeAdminPolicyWrite = "admin:policy:write"
	ScopeAdminAuditRead   = "admin:audit:read"
)

var ScopeCatalogue = []ScopeDefinition{
	{Scope: ScopeAssetCommand, Description: "Execute asset commands (schedules and real-time dimming)", Category: "asset"},
	{Scope: ScopeAssetOverride, Description: "Override policy time restrictions for optimize-mode assets", Category: "asset"},
	{Scope: ScopeAssetWrite, Description: "Update asset configuration and control mode", Category: "asset"},
	{Scope: ScopeAdminKillSwitch, Description: "Read and toggle the project kill switch", Category: "admin"},
	{Scope: ScopeAdminPolicyRead, Description: "Read project policy configuration", Category: "admin"},
	{Scope: ScopeAdminPolicyWrite, Description: "Create and update project policies", Category: "admin"},
	{Scope: ScopeAdminAuditRead, Description: "Read project audit logs", Category: "admin"},
}

// DefaultGrants is the built-in scope -> capability mapping, applied for all
// projects. A policy CSV can replace it per deployment.
var DefaultGrants = map[string][]Capability{
	ScopeAssetCommand:     {CapCommandExecute, CapCommandSchedule},
	ScopeAssetOverride:    {CapCommandOverride},
	ScopeAssetWrite:       {CapAssetSetMode},
	ScopeAdminKillSwitch:  {CapKillSwitchRead, CapKillSwitchWrite},
	ScopeAdminPolicyRead:  {CapPolicyRead},
	ScopeAdminPolicyWrite: {CapPolicyRead, CapPolicyWrite},
	ScopeAdminAuditRead:   {CapAuditRead},
}
