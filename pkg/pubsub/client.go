package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/angelmondragon/visitorpass-backend/pkg/config"
	"github.com/angelmondragon/visitorpass-backend/pkg/logger"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Role selects the Pub/Sub resources a process needs before it can start.
type Role int

const (
	// RoleRelay publishes visitor events and needs the topic.
	RoleRelay Role = iota
	// RoleNotifier drains the notification subscription.
	RoleNotifier
)

func (r Role) String() string {
	switch r {
	case RoleRelay:
		return "relay"
	case RoleNotifier:
		return "notifier"
	default:
		return "unknown"
	}
}

type resourceKind string

const (
	kindTopic        resourceKind = "topics"
	kindSubscription resourceKind = "subscriptions"
)

type requirement struct {
	kind resourceKind
	name string
}

type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
	role      Role
	required  []requirement

	visitorEvents *pubsub.Publisher
}

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

// NewClient opens a Pub/Sub v2 client and fails fast when a resource the role
// depends on is missing.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, role Role, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}
	required, err := requirementsFor(role, cfg)
	if err != nil {
		return nil, err
	}

	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{
		client:    psClient,
		projectID: gcp.ProjectID,
		cfg:       cfg,
		role:      role,
		required:  required,
	}

	if err := c.Ping(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "pubsub_role", role.String()), "pubsub client initialized")
	}

	return c, nil
}

func requirementsFor(role Role, cfg config.PubSubConfig) ([]requirement, error) {
	switch role {
	case RoleRelay:
		topic := strings.TrimSpace(cfg.VisitorEventsTopic)
		if topic == "" {
			return nil, errors.New("visitor events topic is required")
		}
		return []requirement{{kind: kindTopic, name: topic}}, nil
	case RoleNotifier:
		sub := strings.TrimSpace(cfg.NotificationSubscription)
		if sub == "" {
			return nil, errors.New("notification subscription is required")
		}
		return []requirement{{kind: kindSubscription, name: sub}}, nil
	default:
		return nil, fmt.Errorf("unknown pubsub role %d", role)
	}
}

func (c *Client) checkExists(ctx context.Context, req requirement) error {
	fullName := c.resourceName(req.kind, req.name)
	if fullName == "" {
		return fmt.Errorf("%s %q not configured", req.kind, req.name)
	}

	var err error
	switch req.kind {
	case kindTopic:
		_, err = c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: fullName})
	case kindSubscription:
		_, err = c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: fullName})
	}
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%s %q does not exist", req.kind, req.name)
		}
		return fmt.Errorf("checking %s %q: %w", req.kind, req.name, err)
	}
	return nil
}

// NotificationSubscription returns the subscriber the notification worker
// drains, capped at the configured number of in-flight messages.
func (c *Client) NotificationSubscription() *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	fullName := c.resourceName(kindSubscription, c.cfg.NotificationSubscription)
	if fullName == "" {
		return nil
	}
	sub := c.client.Subscriber(fullName)
	if c.cfg.MaxInFlight > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = c.cfg.MaxInFlight
	}
	return sub
}

// VisitorEventsPublisher returns the ordered publisher for visitor lifecycle
// events. Messages sharing an ordering key are delivered in publish order.
func (c *Client) VisitorEventsPublisher() *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	if c.visitorEvents != nil {
		return c.visitorEvents
	}
	fullName := c.resourceName(kindTopic, c.cfg.VisitorEventsTopic)
	if fullName == "" {
		return nil
	}
	pub := c.client.Publisher(fullName)
	pub.EnableMessageOrdering = true
	c.visitorEvents = pub
	return pub
}

// Ping re-checks every resource the role depends on.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	for _, req := range c.required {
		if err := c.checkExists(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes the visitor publisher and releases the client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.visitorEvents != nil {
		c.visitorEvents.Stop()
	}
	return c.client.Close()
}

// resourceName expands a short topic or subscription id into its
// projects/<project>/<kind>/<id> form. Full names pass through.
func (c *Client) resourceName(kind resourceKind, name string) string {
	if c == nil {
		return ""
	}
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/"+string(kind)+"/") {
		return n
	}
	p := strings.TrimSpace(c.projectID)
	if p == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/%s/%s", p, kind, n)
}
