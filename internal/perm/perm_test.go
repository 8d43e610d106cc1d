package perm

import "testing"

func strPtr(s string) *string { return &s }

func customPerms() Permissions {
	return Permissions{
		Programs:   SectionPermission{CanView: true, CanEdit: false},
		Council:    SectionPermission{CanView: true, CanEdit: true},
		Workgroups: SectionPermission{CanView: true, CanEdit: true},
		ByGrade:    SectionPermission{CanView: false, CanEdit: false},
		WorkgroupSpecific: map[string]SectionPermission{
			"wg-quran": {CanView: true, CanEdit: false},
		},
	}
}

func TestSectionChecks(t *testing.T) {
	p := customPerms()
	cases := []struct {
		name    string
		section Section
		view    bool
		edit    bool
	}{
		{name: "programs view only", section: SectionPrograms, view: true, edit: false},
		{name: "council full", section: SectionCouncil, view: true, edit: true},
		{name: "byGrade none", section: SectionByGrade, view: false, edit: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanViewSection(RoleCustom, p, tc.section); got != tc.view {
				t.Fatalf("CanViewSection(%q) = %v, want %v", tc.section, got, tc.view)
			}
			if got := CanEditSection(RoleCustom, p, tc.section); got != tc.edit {
				t.Fatalf("CanEditSection(%q) = %v, want %v", tc.section, got, tc.edit)
			}
		})
	}
}

func TestWorkgroupOverrideIsOptIn(t *testing.T) {
	p := customPerms()

	granted := Category{ID: "wg-quran", Type: SectionWorkgroups}
	if !CanViewCategory(RoleCustom, p, granted) {
		t.Fatal("expected view access to granted workgroup")
	}
	if CanEditCategory(RoleCustom, p, granted) {
		t.Fatal("override grants view only, edit must be false")
	}

	// Blanket workgroups.canView is true, but the specific entry is absent:
	// content access must be denied while enumeration stays allowed.
	other := Category{ID: "wg-other", Type: SectionWorkgroups}
	if CanViewCategory(RoleCustom, p, other) {
		t.Fatal("missing workgroupSpecific entry must deny content access")
	}
	if !CanEnumerate(RoleCustom, p, SectionWorkgroups) {
		t.Fatal("blanket grant should still allow listing workgroup names")
	}
}

func TestWorkgroupRootResolution(t *testing.T) {
	p := customPerms()

	child := Category{ID: "wg-quran-sub", ParentID: strPtr("wg-quran"), Type: SectionWorkgroups}
	if !CanViewCategory(RoleCustom, p, child) {
		t.Fatal("child of granted workgroup should inherit the root's override")
	}

	orphanChild := Category{ID: "x", ParentID: strPtr("wg-other"), Type: SectionWorkgroups}
	if CanViewCategory(RoleCustom, p, orphanChild) {
		t.Fatal("child of ungranted workgroup must be denied")
	}
}

func TestCouncilAndProgramsUseBlanketAtAnyDepth(t *testing.T) {
	p := customPerms()
	deep := Category{ID: "c-3", ParentID: strPtr("c-2"), Type: SectionCouncil}
	if !CanViewCategory(RoleCustom, p, deep) || !CanEditCategory(RoleCustom, p, deep) {
		t.Fatal("council blanket grant applies regardless of depth")
	}
	prog := Category{ID: "p-9", ParentID: strPtr("p-1"), Type: SectionPrograms}
	if CanEditCategory(RoleCustom, p, prog) {
		t.Fatal("programs edit not granted")
	}
}

func TestAdminBypassesEverything(t *testing.T) {
	empty := Permissions{}
	unknown := Category{ID: "does-not-exist", Type: SectionWorkgroups}
	if !CanViewCategory(RoleAdmin, empty, unknown) || !CanEditCategory(RoleAdmin, empty, unknown) {
		t.Fatal("admin must pass category checks with empty permissions")
	}
	for _, s := range []Section{SectionPrograms, SectionCouncil, SectionWorkgroups, SectionByGrade} {
		if !CanViewSection(RoleAdmin, empty, s) || !CanEditSection(RoleAdmin, empty, s) || !CanEnumerate(RoleAdmin, empty, s) {
			t.Fatalf("admin must pass all checks for section %q", s)
		}
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("admin") != RoleAdmin {
		t.Fatal("admin should normalize to RoleAdmin")
	}
	if Normalize("") != RoleCustom || Normalize("superuser") != RoleCustom {
		t.Fatal("unknown roles should normalize to RoleCustom")
	}
}
