package auth

// SuperRoleName is the single role that bypasses every other check.
const SuperRoleName = "master_admin"

const (
	PermSystemAdmin      = "system.admin"
	PermClientsRead      = "clients.read"
	PermClientsCreate    = "clients.create"
	PermClientsUpdate    = "clients.update"
	PermClientsDelete    = "clients.delete"
	PermClientsManage    = "clients.manage"
	PermUsersRead        = "users.read"
	PermUsersManage      = "users.manage"
	PermRolesRead        = "roles.read"
	PermTournamentsRead  = "tournaments.read"
	PermTournamentsWrite = "tournaments.manage"
	PermAuditRead        = "audit.read"
)
