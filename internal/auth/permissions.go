package auth

// Codenames for the built-in permission catalog.
const (
	PermViewUser      = "view_user"
	PermAddUser       = "add_user"
	PermChangeUser    = "change_user"
	PermDeleteUser    = "delete_user"
	PermViewAccount   = "view_account"
	PermAddAccount    = "add_account"
	PermChangeAccount = "change_account"
	PermDeleteAccount = "delete_account"
	PermViewGroup     = "view_group"
	PermAddGroup      = "add_group"
	PermChangeGroup   = "change_group"
	PermDeleteGroup   = "delete_group"
)

// BuiltinPermissions is the seed catalog: add/change/delete/view for each of
// the user, account and group resource types.
var BuiltinPermissions = []Permission{
	{Name: "Can view user", Codename: PermViewUser, ResourceType: "user"},
	{Name: "Can add user", Codename: PermAddUser, ResourceType: "user"},
	{Name: "Can change user", Codename: PermChangeUser, ResourceType: "user"},
	{Name: "Can delete user", Codename: PermDeleteUser, ResourceType: "user"},
	{Name: "Can view account", Codename: PermViewAccount, ResourceType: "account"},
	{Name: "Can add account", Codename: PermAddAccount, ResourceType: "account"},
	{Name: "Can change account", Codename: PermChangeAccount, ResourceType: "account"},
	{Name: "Can delete account", Codename: PermDeleteAccount, ResourceType: "account"},
	{Name: "Can view group", Codename: PermViewGroup, ResourceType: "group"},
	{Name: "Can add group", Codename: PermAddGroup, ResourceType: "group"},
	{Name: "Can change group", Codename: PermChangeGroup, ResourceType: "group"},
	{Name: "Can delete group", Codename: PermDeleteGroup, ResourceType: "group"},
}
