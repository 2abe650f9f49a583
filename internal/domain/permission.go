package domain

// Access 表示某个权限位上的显式覆盖状态。
type Access int8

const (
	AccessUnset Access = iota // 无显式覆盖，继承上级
	AccessAllow               // 显式允许
	AccessDeny                // 显式拒绝
)

func (a Access) String() string {
	switch a {
	case AccessAllow:
		return "allow"
	case AccessDeny:
		return "deny"
	default:
		return "unset"
	}
}

// TargetKind 区分权限覆盖的对象类型
type TargetKind string

const (
	TargetMember TargetKind = "member"
	TargetRole   TargetKind = "role"
)

// PermissionTarget 是权限覆盖的对象：成员或角色。
type PermissionTarget struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id"`
}

// MemberTarget 构造一个成员目标
func MemberTarget(userID string) PermissionTarget {
	return PermissionTarget{Kind: TargetMember, ID: userID}
}

// RoleTarget 构造一个角色目标
func RoleTarget(roleID string) PermissionTarget {
	return PermissionTarget{Kind: TargetRole, ID: roleID}
}

// Everyone 返回服务器的默认角色 (@everyone)，其 ID 与服务器 ID 相同。
func Everyone(guildID string) PermissionTarget {
	return RoleTarget(guildID)
}

// IsValid 检查目标是否合法
func (t PermissionTarget) IsValid() bool {
	return t.ID != "" && (t.Kind == TargetMember || t.Kind == TargetRole)
}

// Overwrite 是频道上针对某个目标的权限覆盖 (只关心 Connect、View 和 Speak 三个位)。
type Overwrite struct {
	Target  PermissionTarget
	Connect Access
	View    Access
	Speak   Access
}

// IsEmpty 表示该覆盖不再包含任何显式设置
func (o Overwrite) IsEmpty() bool {
	return o.Connect == AccessUnset && o.View == AccessUnset && o.Speak == AccessUnset
}
