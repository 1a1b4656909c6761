package user

import (
	"testing"
	"time"
)

func TestRole(t *testing.T) {
	tests := []struct {
		role      Role
		valid     bool
		priority  int
	}{
		{role: RoleAdmin, valid: true, priority: 30},
		{role: RoleTeacher, valid: true, priority: 20},
		{role: RoleParent, valid: true, priority: 11},
		{role: RoleStudent, valid: true, priority: 10},
		{role: Role("principal"), valid: false, priority: 0},
		{role: Role(""), valid: false, priority: 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			if got := tt.role.Valid(); got != tt.valid {
				t.Errorf("Valid() = %v, want %v", got, tt.valid)
			}
			if got := tt.role.Priority(); got != tt.priority {
				t.Errorf("Priority() = %d, want %d", got, tt.priority)
			}
		})
	}
}

func TestUser_SetCheckPassword(t *testing.T) {
	var usr User
	if err := usr.SetPassword("S3kr3t!pwd", 4); err != nil {
		t.Fatalf("SetPassword() failed, %v", err)
	}

	if !usr.CheckPassword("S3kr3t!pwd") {
		t.Error("CheckPassword() = false for the right password")
	}
	if usr.CheckPassword("s3kr3t!pwd") {
		t.Error("CheckPassword() = true for the wrong password")
	}

	// a user with no hash never matches
	var blank User
	if blank.CheckPassword("") {
		t.Error("CheckPassword() = true for empty hash")
	}
}

func TestUser_IsLocked(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name        string
		lockedUntil *time.Time
		want        bool
	}{
		{name: "never locked", lockedUntil: nil, want: false},
		{name: "lock expired", lockedUntil: &past, want: false},
		{name: "lock open", lockedUntil: &future, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usr := User{LockedUntil: tt.lockedUntil}
			if got := usr.IsLocked(now); got != tt.want {
				t.Errorf("IsLocked() = %v, want %v", got, tt.want)
			}
		})
	}
}
