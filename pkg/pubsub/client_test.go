package pubsub

import (
	"testing"

	"github.com/angelmondragon/campusmart-backend/pkg/config"
)

func TestResourceName(t *testing.T) {
	cases := []struct {
		project, kind, name, want string
	}{
		{"proj", "topics", "orders", "projects/proj/topics/orders"},
		{"proj", "subscriptions", " sub ", "projects/proj/subscriptions/sub"},
		{"other", "topics", "projects/proj/topics/orders", "projects/proj/topics/orders"},
		{"", "topics", "orders", ""},
		{"proj", "topics", "", ""},
	}
	for _, tc := range cases {
		if got := resourceName(tc.project, tc.kind, tc.name); got != tc.want {
			t.Fatalf("resourceName(%q,%q,%q) = %q want %q", tc.project, tc.kind, tc.name, got, tc.want)
		}
	}
}

func TestSubscriptionNamesSkipsBlank(t *testing.T) {
	names := subscriptionNames(config.PubSubConfig{NotificationSubscription: "notif", AnalyticsSubscription: "  "})
	if len(names) != 1 || names[0] != "notif" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestNilClientHandles(t *testing.T) {
	var c *Client
	if c.Publisher("orders") != nil || c.Subscription("sub") != nil {
		t.Fatal("nil client should return nil handles")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close on nil client: %v", err)
	}
}
