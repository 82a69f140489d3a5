package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
)

func elbTags(name string, tags map[string]string) []elbv2types.Tag {
	out := []elbv2types.Tag{
		{Key: aws.String("Name"), Value: aws.String(name)},
		{Key: aws.String(idempotencyTagKey), Value: aws.String(token(name))},
	}
	for k, v := range tags {
		if k == "Name" || k == idempotencyTagKey {
			continue
		}
		out = append(out, elbv2types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return out
}

// Load balancer

func (p *Provider) createLoadBalancer(ctx context.Context, name string, attrs map[string]any) (string, map[string]any, error) {
	lbName := strAttr(attrs, "name")
	if lbName == "" {
		lbName = name
	}
	scheme := elbv2types.LoadBalancerSchemeEnumInternetFacing
	if strAttr(attrs, "scheme") == "internal" {
		scheme = elbv2types.LoadBalancerSchemeEnumInternal
	}
	lbType := elbv2types.LoadBalancerTypeEnumApplication
	if strAttr(attrs, "type") == "network" {
		lbType = elbv2types.LoadBalancerTypeEnumNetwork
	}

	// CreateLoadBalancer is idempotent per name: a repeat call with the
	// same settings returns the existing balancer.
	out, err := p.elbv2Client.CreateLoadBalancer(ctx, &elbv2.CreateLoadBalancerInput{
		Name:           aws.String(lbName),
		Subnets:        strSliceAttr(attrs, "subnets"),
		SecurityGroups: strSliceAttr(attrs, "security_groups"),
		Scheme:         scheme,
		Type:           lbType,
		Tags:           elbTags(name, tagMapAttr(attrs, "tags")),
	})
	if err != nil {
		return "", nil, fmt.Errorf("creating load balancer %s: %w", lbName, err)
	}
	if len(out.LoadBalancers) == 0 {
		return "", nil, fmt.Errorf("creating load balancer %s: empty response", lbName)
	}
	lb := out.LoadBalancers[0]
	return aws.ToString(lb.LoadBalancerArn), loadBalancerOutputs(lb), nil
}

func loadBalancerOutputs(lb elbv2types.LoadBalancer) map[string]any {
	return map[string]any{
		"arn":      aws.ToString(lb.LoadBalancerArn),
		"dns_name": aws.ToString(lb.DNSName),
		"zone_id":  aws.ToString(lb.CanonicalHostedZoneId),
	}
}

func (p *Provider) readLoadBalancer(ctx context.Context, arn string) (map[string]any, bool, error) {
	out, err := p.elbv2Client.DescribeLoadBalancers(ctx, &elbv2.DescribeLoadBalancersInput{
		LoadBalancerArns: []string{arn},
	})
	if err != nil {
		if isNotFound(err, "LoadBalancerNotFound") {
			return nil, false, nil
		}
		return nil, false, err
	}
	if len(out.LoadBalancers) == 0 {
		return nil, false, nil
	}
	lb := out.LoadBalancers[0]
	attrs := loadBalancerOutputs(lb)
	subnets := []any{}
	for _, az := range lb.AvailabilityZones {
		subnets = append(subnets, aws.ToString(az.SubnetId))
	}
	attrs["subnets"] = subnets
	sgs := []any{}
	for _, sg := range lb.SecurityGroups {
		sgs = append(sgs, sg)
	}
	attrs["security_groups"] = sgs
	return attrs, true, nil
}

func (p *Provider) updateLoadBalancer(ctx context.Context, arn string, attrs map[string]any) (map[string]any, error) {
	if sgs := strSliceAttr(attrs, "security_groups"); len(sgs) > 0 {
		_, err := p.elbv2Client.SetSecurityGroups(ctx, &elbv2.SetSecurityGroupsInput{
			LoadBalancerArn: aws.String(arn),
			SecurityGroups:  sgs,
		})
		if err != nil {
			return nil, fmt.Errorf("setting security groups on %s: %w", arn, err)
		}
	}
	if subnets := strSliceAttr(attrs, "subnets"); len(subnets) > 0 {
		_, err := p.elbv2Client.SetSubnets(ctx, &elbv2.SetSubnetsInput{
			LoadBalancerArn: aws.String(arn),
			Subnets:         subnets,
		})
		if err != nil {
			return nil, fmt.Errorf("setting subnets on %s: %w", arn, err)
		}
	}

	out, err := p.elbv2Client.DescribeLoadBalancers(ctx, &elbv2.DescribeLoadBalancersInput{
		LoadBalancerArns: []string{arn},
	})
	if err != nil || len(out.LoadBalancers) == 0 {
		return map[string]any{"arn": arn}, nil
	}
	return loadBalancerOutputs(out.LoadBalancers[0]), nil
}

func (p *Provider) deleteLoadBalancer(ctx context.Context, arn string) error {
	_, err := p.elbv2Client.DeleteLoadBalancer(ctx, &elbv2.DeleteLoadBalancerInput{
		LoadBalancerArn: aws.String(arn),
	})
	if err != nil && !isNotFound(err, "LoadBalancerNotFound") {
		return fmt.Errorf("deleting load balancer %s: %w", arn, err)
	}
	return nil
}

// Target group

func (p *Provider) createTargetGroup(ctx context.Context, name string, attrs map[string]any) (string, map[string]any, error) {
	tgName := strAttr(attrs, "name")
	if tgName == "" {
		tgName = name
	}
	targetType := elbv2types.TargetTypeEnumIp
	if tt := strAttr(attrs, "target_type"); tt != "" {
		targetType = elbv2types.TargetTypeEnum(tt)
	}

	in := &elbv2.CreateTargetGroupInput{
		Name:       aws.String(tgName),
		Port:       aws.Int32(intAttr(attrs, "port")),
		Protocol:   elbv2types.ProtocolEnum(strAttr(attrs, "protocol")),
		VpcId:      aws.String(strAttr(attrs, "vpc_id")),
		TargetType: targetType,
		Tags:       elbTags(name, tagMapAttr(attrs, "tags")),
	}
	if path := strAttr(attrs, "health_check_path"); path != "" {
		in.HealthCheckPath = aws.String(path)
	}
	// Idempotent per name, like CreateLoadBalancer.
	out, err := p.elbv2Client.CreateTargetGroup(ctx, in)
	if err != nil {
		return "", nil, fmt.Errorf("creating target group %s: %w", tgName, err)
	}
	if len(out.TargetGroups) == 0 {
		return "", nil, fmt.Errorf("creating target group %s: empty response", tgName)
	}
	tg := out.TargetGroups[0]
	return aws.ToString(tg.TargetGroupArn), targetGroupOutputs(tg), nil
}

func targetGroupOutputs(tg elbv2types.TargetGroup) map[string]any {
	return map[string]any{
		"arn":      aws.ToString(tg.TargetGroupArn),
		"name":     aws.ToString(tg.TargetGroupName),
		"port":     int(aws.ToInt32(tg.Port)),
		"protocol": string(tg.Protocol),
	}
}

func (p *Provider) readTargetGroup(ctx context.Context, arn string) (map[string]any, bool, error) {
	out, err := p.elbv2Client.DescribeTargetGroups(ctx, &elbv2.DescribeTargetGroupsInput{
		TargetGroupArns: []string{arn},
	})
	if err != nil {
		if isNotFound(err, "TargetGroupNotFound") {
			return nil, false, nil
		}
		return nil, false, err
	}
	if len(out.TargetGroups) == 0 {
		return nil, false, nil
	}
	tg := out.TargetGroups[0]
	attrs := targetGroupOutputs(tg)
	attrs["vpc_id"] = aws.ToString(tg.VpcId)
	if tg.HealthCheckPath != nil {
		attrs["health_check_path"] = aws.ToString(tg.HealthCheckPath)
	}
	return attrs, true, nil
}

func (p *Provider) updateTargetGroup(ctx context.Context, arn string, attrs map[string]any) (map[string]any, error) {
	in := &elbv2.ModifyTargetGroupInput{TargetGroupArn: aws.String(arn)}
	if path := strAttr(attrs, "health_check_path"); path != "" {
		in.HealthCheckPath = aws.String(path)
	}
	out, err := p.elbv2Client.ModifyTargetGroup(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("updating target group %s: %w", arn, err)
	}
	if len(out.TargetGroups) == 0 {
		return map[string]any{"arn": arn}, nil
	}
	return targetGroupOutputs(out.TargetGroups[0]), nil
}

func (p *Provider) deleteTargetGroup(ctx context.Context, arn string) error {
	_, err := p.elbv2Client.DeleteTargetGroup(ctx, &elbv2.DeleteTargetGroupInput{
		TargetGroupArn: aws.String(arn),
	})
	if err != nil && !isNotFound(err, "TargetGroupNotFound") {
		return fmt.Errorf("deleting target group %s: %w", arn, err)
	}
	return nil
}

// Listener

func listenerActions(attrs map[string]any) []elbv2types.Action {
	return []elbv2types.Action{{
		Type:           elbv2types.ActionTypeEnumForward,
		TargetGroupArn: aws.String(strAttr(attrs, "target_group_arn")),
	}}
}

func (p *Provider) createListener(ctx context.Context, name string, attrs map[string]any) (string, map[string]any, error) {
	lbArn := strAttr(attrs, "load_balancer_arn")
	port := intAttr(attrs, "port")

	// Listeners are keyed by (balancer, port); adopt an existing one on
	// the same port rather than failing with DuplicateListener.
	existing, err := p.elbv2Client.DescribeListeners(ctx, &elbv2.DescribeListenersInput{
		LoadBalancerArn: aws.String(lbArn),
	})
	if err != nil && !isNotFound(err, "LoadBalancerNotFound") {
		return "", nil, fmt.Errorf("looking up listeners on %s: %w", lbArn, err)
	}
	if existing != nil {
		for _, l := range existing.Listeners {
			if aws.ToInt32(l.Port) == port {
				arn := aws.ToString(l.ListenerArn)
				return arn, listenerOutputs(l), nil
			}
		}
	}

	out, err := p.elbv2Client.CreateListener(ctx, &elbv2.CreateListenerInput{
		LoadBalancerArn: aws.String(lbArn),
		Port:            aws.Int32(port),
		Protocol:        elbv2types.ProtocolEnum(strAttr(attrs, "protocol")),
		DefaultActions:  listenerActions(attrs),
		Tags:            elbTags(name, tagMapAttr(attrs, "tags")),
	})
	if err != nil {
		return "", nil, fmt.Errorf("creating listener on %s: %w", lbArn, err)
	}
	if len(out.Listeners) == 0 {
		return "", nil, fmt.Errorf("creating listener on %s: empty response", lbArn)
	}
	l := out.Listeners[0]
	return aws.ToString(l.ListenerArn), listenerOutputs(l), nil
}

func listenerOutputs(l elbv2types.Listener) map[string]any {
	attrs := map[string]any{
		"arn":      aws.ToString(l.ListenerArn),
		"port":     int(aws.ToInt32(l.Port)),
		"protocol": string(l.Protocol),
	}
	if len(l.DefaultActions) > 0 {
		attrs["target_group_arn"] = aws.ToString(l.DefaultActions[0].TargetGroupArn)
	}
	return attrs
}

func (p *Provider) readListener(ctx context.Context, arn string) (map[string]any, bool, error) {
	out, err := p.elbv2Client.DescribeListeners(ctx, &elbv2.DescribeListenersInput{
		ListenerArns: []string{arn},
	})
	if err != nil {
		if isNotFound(err, "ListenerNotFound") {
			return nil, false, nil
		}
		return nil, false, err
	}
	if len(out.Listeners) == 0 {
		return nil, false, nil
	}
	l := out.Listeners[0]
	attrs := listenerOutputs(l)
	attrs["load_balancer_arn"] = aws.ToString(l.LoadBalancerArn)
	return attrs, true, nil
}

func (p *Provider) updateListener(ctx context.Context, arn string, attrs map[string]any) (map[string]any, error) {
	out, err := p.elbv2Client.ModifyListener(ctx, &elbv2.ModifyListenerInput{
		ListenerArn:    aws.String(arn),
		Port:           aws.Int32(intAttr(attrs, "port")),
		Protocol:       elbv2types.ProtocolEnum(strAttr(attrs, "protocol")),
		DefaultActions: listenerActions(attrs),
	})
	if err != nil {
		return nil, fmt.Errorf("updating listener %s: %w", arn, err)
	}
	if len(out.Listeners) == 0 {
		return map[string]any{"arn": arn}, nil
	}
	return listenerOutputs(out.Listeners[0]), nil
}

func (p *Provider) deleteListener(ctx context.Context, arn string) error {
	_, err := p.elbv2Client.DeleteListener(ctx, &elbv2.DeleteListenerInput{ListenerArn: aws.String(arn)})
	if err != nil && !isNotFound(err, "ListenerNotFound") {
		return fmt.Errorf("deleting listener %s: %w", arn, err)
	}
	return nil
}
