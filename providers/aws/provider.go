// Package aws implements the provider capability interface against AWS,
// covering the network, load-balancing, container and IAM resource kinds.
package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/smithy-go"

	"github.com/stratus-io/stratus/internal/ir"
)

// idempotencyTagKey tags every created resource with the deterministic
// token derived from its logical name, so a retried create after an
// ambiguous timeout adopts the existing resource instead of duplicating it.
const idempotencyTagKey = "stratus"

type Provider struct {
	ec2Client   *ec2.Client
	ecsClient   *ecs.Client
	elbv2Client *elasticloadbalancingv2.Client
	iamClient   *iam.Client
}

// New loads the default AWS configuration and wires service clients.
func New(ctx context.Context, region string) (*Provider, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	return &Provider{
		ec2Client:   ec2.NewFromConfig(cfg),
		ecsClient:   ecs.NewFromConfig(cfg),
		elbv2Client: elasticloadbalancingv2.NewFromConfig(cfg),
		iamClient:   iam.NewFromConfig(cfg),
	}, nil
}

func (p *Provider) Create(ctx context.Context, kind ir.Kind, name string, attrs map[string]any) (string, map[string]any, error) {
	switch kind {
	case ir.KindNetwork:
		return p.createVpc(ctx, name, attrs)
	case ir.KindSubnet:
		return p.createSubnet(ctx, name, attrs)
	case ir.KindGateway:
		return p.createInternetGateway(ctx, name, attrs)
	case ir.KindRouteTable:
		return p.createRouteTable(ctx, name, attrs)
	case ir.KindAssociation:
		return p.createAssociation(ctx, name, attrs)
	case ir.KindSecurityGroup:
		return p.createSecurityGroup(ctx, name, attrs)
	case ir.KindLoadBalancer:
		return p.createLoadBalancer(ctx, name, attrs)
	case ir.KindTargetGroup:
		return p.createTargetGroup(ctx, name, attrs)
	case ir.KindListener:
		return p.createListener(ctx, name, attrs)
	case ir.KindCluster:
		return p.createCluster(ctx, name, attrs)
	case ir.KindTaskDefinition:
		return p.createTaskDefinition(ctx, name, attrs)
	case ir.KindService:
		return p.createService(ctx, name, attrs)
	case ir.KindRole:
		return p.createRole(ctx, name, attrs)
	case ir.KindPolicyAttachment:
		return p.createPolicyAttachment(ctx, name, attrs)
	}
	return "", nil, fmt.Errorf("unsupported resource kind: %s", kind)
}

func (p *Provider) Read(ctx context.Context, kind ir.Kind, identity string) (map[string]any, bool, error) {
	switch kind {
	case ir.KindNetwork:
		return p.readVpc(ctx, identity)
	case ir.KindSubnet:
		return p.readSubnet(ctx, identity)
	case ir.KindGateway:
		return p.readInternetGateway(ctx, identity)
	case ir.KindRouteTable:
		return p.readRouteTable(ctx, identity)
	case ir.KindAssociation:
		return p.readAssociation(ctx, identity)
	case ir.KindSecurityGroup:
		return p.readSecurityGroup(ctx, identity)
	case ir.KindLoadBalancer:
		return p.readLoadBalancer(ctx, identity)
	case ir.KindTargetGroup:
		return p.readTargetGroup(ctx, identity)
	case ir.KindListener:
		return p.readListener(ctx, identity)
	case ir.KindCluster:
		return p.readCluster(ctx, identity)
	case ir.KindTaskDefinition:
		return p.readTaskDefinition(ctx, identity)
	case ir.KindService:
		return p.readService(ctx, identity)
	case ir.KindRole:
		return p.readRole(ctx, identity)
	case ir.KindPolicyAttachment:
		return p.readPolicyAttachment(ctx, identity)
	}
	return nil, false, fmt.Errorf("unsupported resource kind: %s", kind)
}

func (p *Provider) Update(ctx context.Context, kind ir.Kind, identity string, attrs map[string]any) (map[string]any, error) {
	switch kind {
	case ir.KindNetwork:
		return p.updateVpc(ctx, identity, attrs)
	case ir.KindSubnet:
		return p.updateSubnet(ctx, identity, attrs)
	case ir.KindRouteTable:
		return p.updateRouteTable(ctx, identity, attrs)
	case ir.KindSecurityGroup:
		return p.updateSecurityGroup(ctx, identity, attrs)
	case ir.KindLoadBalancer:
		return p.updateLoadBalancer(ctx, identity, attrs)
	case ir.KindTargetGroup:
		return p.updateTargetGroup(ctx, identity, attrs)
	case ir.KindListener:
		return p.updateListener(ctx, identity, attrs)
	case ir.KindTaskDefinition:
		return p.updateTaskDefinition(ctx, identity, attrs)
	case ir.KindService:
		return p.updateService(ctx, identity, attrs)
	case ir.KindRole:
		return p.updateRole(ctx, identity, attrs)
	case ir.KindGateway, ir.KindAssociation, ir.KindCluster, ir.KindPolicyAttachment:
		// No diffable fields; every change forces replacement.
		return map[string]any{"id": identity}, nil
	}
	return nil, fmt.Errorf("unsupported resource kind: %s", kind)
}

func (p *Provider) Delete(ctx context.Context, kind ir.Kind, identity string) error {
	switch kind {
	case ir.KindNetwork:
		return p.deleteVpc(ctx, identity)
	case ir.KindSubnet:
		return p.deleteSubnet(ctx, identity)
	case ir.KindGateway:
		return p.deleteInternetGateway(ctx, identity)
	case ir.KindRouteTable:
		return p.deleteRouteTable(ctx, identity)
	case ir.KindAssociation:
		return p.deleteAssociation(ctx, identity)
	case ir.KindSecurityGroup:
		return p.deleteSecurityGroup(ctx, identity)
	case ir.KindLoadBalancer:
		return p.deleteLoadBalancer(ctx, identity)
	case ir.KindTargetGroup:
		return p.deleteTargetGroup(ctx, identity)
	case ir.KindListener:
		return p.deleteListener(ctx, identity)
	case ir.KindCluster:
		return p.deleteCluster(ctx, identity)
	case ir.KindTaskDefinition:
		return p.deleteTaskDefinition(ctx, identity)
	case ir.KindService:
		return p.deleteService(ctx, identity)
	case ir.KindRole:
		return p.deleteRole(ctx, identity)
	case ir.KindPolicyAttachment:
		return p.deletePolicyAttachment(ctx, identity)
	}
	return fmt.Errorf("unsupported resource kind: %s", kind)
}

// Fields whose change cannot be applied in place and forces a
// destroy-then-create replacement.
var immutableFields = map[ir.Kind][]string{
	ir.KindNetwork:          {"cidr_block"},
	ir.KindSubnet:           {"vpc_id", "cidr_block", "availability_zone"},
	ir.KindGateway:          {"vpc_id"},
	ir.KindRouteTable:       {"vpc_id"},
	ir.KindAssociation:      {"subnet_id", "route_table_id"},
	ir.KindSecurityGroup:    {"vpc_id", "name", "description"},
	ir.KindLoadBalancer:     {"name", "scheme", "type"},
	ir.KindTargetGroup:      {"name", "port", "protocol", "vpc_id", "target_type"},
	ir.KindListener:         {"load_balancer_arn"},
	ir.KindCluster:          {"name"},
	ir.KindTaskDefinition:   {"family"},
	ir.KindService:          {"name", "cluster", "launch_type"},
	ir.KindRole:             {"name"},
	ir.KindPolicyAttachment: {"role", "policy_arn"},
}

func (p *Provider) ImmutableFields(kind ir.Kind) []string {
	return immutableFields[kind]
}

// isNotFound matches the error codes AWS APIs use for missing resources.
func isNotFound(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	got := apiErr.ErrorCode()
	for _, code := range codes {
		if got == code {
			return true
		}
	}
	return false
}

// attribute accessors; declarations arrive as decoded JSON, so numbers may
// be float64.

func strAttr(attrs map[string]any, key string) string {
	s, _ := attrs[key].(string)
	return s
}

func intAttr(attrs map[string]any, key string) int32 {
	switch n := attrs[key].(type) {
	case int:
		return int32(n)
	case int64:
		return int32(n)
	case float64:
		return int32(n)
	}
	return 0
}

func boolAttr(attrs map[string]any, key string) bool {
	b, _ := attrs[key].(bool)
	return b
}

func strSliceAttr(attrs map[string]any, key string) []string {
	elems, _ := attrs[key].([]any)
	out := make([]string, 0, len(elems))
	for _, e := range elems {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func mapSliceAttr(attrs map[string]any, key string) []map[string]any {
	elems, _ := attrs[key].([]any)
	out := make([]map[string]any, 0, len(elems))
	for _, e := range elems {
		if m, ok := e.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func tagMapAttr(attrs map[string]any, key string) map[string]string {
	out := map[string]string{}
	switch m := attrs[key].(type) {
	case map[string]string:
		for k, v := range m {
			out[k] = v
		}
	case map[string]any:
		for k, v := range m {
			if s, ok := v.(string); ok {
				out[k] = s
			}
		}
	}
	return out
}

func token(name string) string {
	return fmt.Sprintf("%s:%s", idempotencyTagKey, name)
}
