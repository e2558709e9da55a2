package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/porthorian/orgauthz/pkg/storage"
	"github.com/porthorian/orgauthz/pkg/storage/testsuite"
)

func TestAdapterConformance(t *testing.T) {
	testsuite.Run(t, func(t *testing.T) testsuite.Fixture {
		adapter := NewAdapter()
		return testsuite.Fixture{
			Store: adapter,
			PutGroup: func(t *testing.T, groupID int64, organizationID int64) {
				adapter.PutGroup(groupID, organizationID)
			},
		}
	})
}

func TestAdapterHonorsCanceledContext(t *testing.T) {
	adapter := NewAdapter()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := adapter.OrganizationMembership(ctx, "u1", 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := adapter.AddGroupMember(ctx, storage.GroupMembershipRecord{UserID: "u1", GroupID: 1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
