package platform

import "testing"

func TestParsePermissions(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		want    Permission
		wantErr bool
	}{
		{name: "single", input: []string{"view_channel"}, want: PermViewChannel},
		{name: "mixed case and spaces", input: []string{" Send_Messages ", "manage_messages"}, want: PermSendMessages | PermManageMessages},
		{name: "empty entries skipped", input: []string{"", "attach_files"}, want: PermAttachFiles},
		{name: "unknown rejected", input: []string{"view_channel", "administrator"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePermissions(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %v", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestOverwriteBuilderMergesTargets(t *testing.T) {
	overwrites := NewOverwriteBuilder().
		Deny(OverwriteRole, "everyone", PermViewChannel).
		Allow(OverwriteMember, "u1", PermViewChannel|PermSendMessages).
		Allow(OverwriteMember, "u1", PermAttachFiles).
		Build()

	if len(overwrites) != 2 {
		t.Fatalf("got %d overwrites, want 2", len(overwrites))
	}
	if overwrites[0].TargetID != "everyone" || overwrites[0].Deny != PermViewChannel {
		t.Fatalf("unexpected first overwrite: %+v", overwrites[0])
	}
	member := overwrites[1]
	if !member.Allow.Has(PermViewChannel | PermSendMessages | PermAttachFiles) {
		t.Fatalf("member overwrite not merged: %s", member.Allow)
	}
}
