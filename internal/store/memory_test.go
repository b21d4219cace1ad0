package store

import (
	"context"
	"errors"
	"testing"

	"github.com/luminodash/collab/internal/domain"
)

func seed() *Memory {
	m := NewMemory()
	m.Put(&Dashboard{
		ID:      "d1",
		OwnerID: "owner",
		Collaborators: []Collaborator{
			{UserID: "editor", Role: domain.RoleEditor},
			{UserID: "reader", Role: domain.RoleViewer},
		},
		Layout:  domain.LayoutSchema{Components: []domain.Component{{ID: "w1", Props: map[string]any{"x": 1}}}},
		Version: 3,
	})
	return m
}

func TestMemoryLoad(t *testing.T) {
	m := seed()
	ctx := context.Background()

	d, err := m.Load(ctx, "d1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if d.Version != 3 || len(d.Layout.Components) != 1 {
		t.Fatalf("dashboard = %+v", d)
	}

	if _, err := m.Load(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemorySaveVersioning(t *testing.T) {
	ctx := context.Background()
	layout := domain.LayoutSchema{Components: []domain.Component{{ID: "w2", Props: map[string]any{"x": 2}}}}

	vp := func(v int64) *int64 { return &v }

	cases := []struct {
		name     string
		expected *int64
		wantErr  bool
		wantVer  int64
	}{
		{"nil skips the check", nil, false, 4},
		{"equal version passes", vp(3), false, 4},
		{"ahead of stored passes", vp(9), false, 4},
		{"behind stored conflicts", vp(2), true, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := seed()
			ver, err := m.Save(ctx, "d1", layout, tc.expected)
			if tc.wantErr {
				var conflict *VersionConflictError
				if !errors.As(err, &conflict) {
					t.Fatalf("err = %v, want VersionConflictError", err)
				}
				if conflict.Current != 3 || conflict.Provided != *tc.expected {
					t.Fatalf("conflict = %+v", conflict)
				}
				d, _ := m.Load(ctx, "d1")
				if d.Version != 3 || d.Layout.Components[0].ID != "w1" {
					t.Fatal("conflicting save must write nothing")
				}
				return
			}
			if err != nil {
				t.Fatalf("save: %v", err)
			}
			if ver != tc.wantVer {
				t.Fatalf("version = %d, want %d", ver, tc.wantVer)
			}
			d, _ := m.Load(ctx, "d1")
			if d.Layout.Components[0].ID != "w2" {
				t.Fatal("save must replace the layout")
			}
		})
	}
}

func TestMemorySaveUnknownDashboard(t *testing.T) {
	m := NewMemory()
	if _, err := m.Save(context.Background(), "ghost", domain.LayoutSchema{}, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRoleFor(t *testing.T) {
	d := &Dashboard{
		ID:      "d1",
		OwnerID: "owner",
		Collaborators: []Collaborator{
			{UserID: "editor", Role: domain.RoleEditor},
			{UserID: "reader", Role: domain.RoleViewer},
		},
	}

	cases := []struct {
		name     string
		public   bool
		user     domain.UserID
		wantRole domain.Role
		wantOK   bool
	}{
		{"owner", false, "owner", domain.RoleOwner, true},
		{"collaborating editor", false, "editor", domain.RoleEditor, true},
		{"collaborating viewer", false, "reader", domain.RoleViewer, true},
		{"stranger on private", false, "stranger", "", false},
		{"stranger on public", true, "stranger", domain.RoleViewer, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d.IsPublic = tc.public
			role, ok := d.RoleFor(tc.user)
			if ok != tc.wantOK || role != tc.wantRole {
				t.Fatalf("RoleFor(%s) = %s %v, want %s %v", tc.user, role, ok, tc.wantRole, tc.wantOK)
			}
		})
	}
}

func TestCanWrite(t *testing.T) {
	d := &Dashboard{
		ID:            "d1",
		OwnerID:       "owner",
		Collaborators: []Collaborator{{UserID: "reader", Role: domain.RoleViewer}},
		IsPublic:      true,
	}
	if !d.CanWrite("owner") {
		t.Fatal("owner must be able to write")
	}
	if d.CanWrite("reader") || d.CanWrite("stranger") {
		t.Fatal("viewers must not be able to write")
	}
}
