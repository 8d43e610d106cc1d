// Package perm decides, for a user and a section or category, whether the
// user may see it and whether the user may change it. Every screen goes
// through these checks; nothing re-implements them locally.
package perm

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleCustom Role = "custom"
)

func Normalize(role string) Role {
	switch Role(role) {
	case RoleAdmin, RoleCustom:
		return Role(role)
	default:
		return RoleCustom
	}
}

type Section string

const (
	SectionPrograms   Section = "programs"
	SectionCouncil    Section = "council"
	SectionWorkgroups Section = "workgroups"
	SectionByGrade    Section = "byGrade"
)

type SectionPermission struct {
	CanView bool `json:"canView"`
	CanEdit bool `json:"canEdit"`
}

// Permissions is a user's full grant set. WorkgroupSpecific maps a workgroup
// root category id to an override that replaces the blanket Workgroups grant
// for that subtree.
type Permissions struct {
	Programs          SectionPermission            `json:"programs"`
	Council           SectionPermission            `json:"council"`
	Workgroups        SectionPermission            `json:"workgroups"`
	ByGrade           SectionPermission            `json:"byGrade"`
	WorkgroupSpecific map[string]SectionPermission `json:"workgroupSpecific"`
}

// Category is the minimal category context a check needs.
type Category struct {
	ID       string
	ParentID *string
	Type     Section
}

// WorkgroupRoot resolves the id whose WorkgroupSpecific entry governs a
// workgroup category. Overrides exist one level deep only: children and
// grandchildren all inherit the root's entry.
func WorkgroupRoot(cat Category) string {
	if cat.ParentID == nil || *cat.ParentID == "" {
		return cat.ID
	}
	return *cat.ParentID
}

func (p Permissions) section(s Section) SectionPermission {
	switch s {
	case SectionPrograms:
		return p.Programs
	case SectionCouncil:
		return p.Council
	case SectionWorkgroups:
		return p.Workgroups
	case SectionByGrade:
		return p.ByGrade
	default:
		return SectionPermission{}
	}
}

// CanViewSection gates a top-level section tab, with no category context.
func CanViewSection(role Role, p Permissions, s Section) bool {
	if role == RoleAdmin {
		return true
	}
	return p.section(s).CanView
}

func CanEditSection(role Role, p Permissions, s Section) bool {
	if role == RoleAdmin {
		return true
	}
	return p.section(s).CanEdit
}

// CanViewCategory gates access to a category's contents (its resolutions).
// For workgroup categories access is opt-in per workgroup root: a missing
// WorkgroupSpecific entry means no access, even when the blanket Workgroups
// grant allows viewing. Council and programs use the blanket grant at any
// depth.
func CanViewCategory(role Role, p Permissions, cat Category) bool {
	if role == RoleAdmin {
		return true
	}
	if cat.Type == SectionWorkgroups {
		return p.WorkgroupSpecific[WorkgroupRoot(cat)].CanView
	}
	return p.section(cat.Type).CanView
}

func CanEditCategory(role Role, p Permissions, cat Category) bool {
	if role == RoleAdmin {
		return true
	}
	if cat.Type == SectionWorkgroups {
		return p.WorkgroupSpecific[WorkgroupRoot(cat)].CanEdit
	}
	return p.section(cat.Type).CanEdit
}

// CanEnumerate gates listing category names in a section. This is a weaker
// tier than CanViewCategory: the blanket grant is enough to see that a
// workgroup exists, opening it still requires its specific entry.
func CanEnumerate(role Role, p Permissions, s Section) bool {
	if role == RoleAdmin {
		return true
	}
	return p.section(s).CanView
}
