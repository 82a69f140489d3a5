package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
)

func ecsTags(name string, tags map[string]string) []ecstypes.Tag {
	out := []ecstypes.Tag{
		{Key: aws.String("Name"), Value: aws.String(name)},
		{Key: aws.String(idempotencyTagKey), Value: aws.String(token(name))},
	}
	for k, v := range tags {
		if k == "Name" || k == idempotencyTagKey {
			continue
		}
		out = append(out, ecstypes.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return out
}

// Cluster

func (p *Provider) createCluster(ctx context.Context, name string, attrs map[string]any) (string, map[string]any, error) {
	clusterName := strAttr(attrs, "name")
	if clusterName == "" {
		clusterName = name
	}
	// CreateCluster with an existing name returns the existing cluster.
	out, err := p.ecsClient.CreateCluster(ctx, &ecs.CreateClusterInput{
		ClusterName: aws.String(clusterName),
		Tags:        ecsTags(name, tagMapAttr(attrs, "tags")),
	})
	if err != nil {
		return "", nil, fmt.Errorf("creating cluster %s: %w", clusterName, err)
	}
	arn := aws.ToString(out.Cluster.ClusterArn)
	return arn, map[string]any{"arn": arn, "name": clusterName}, nil
}

func (p *Provider) readCluster(ctx context.Context, arn string) (map[string]any, bool, error) {
	out, err := p.ecsClient.DescribeClusters(ctx, &ecs.DescribeClustersInput{Clusters: []string{arn}})
	if err != nil {
		return nil, false, err
	}
	for _, c := range out.Clusters {
		if aws.ToString(c.ClusterArn) != arn {
			continue
		}
		// Deleted clusters linger as INACTIVE.
		if aws.ToString(c.Status) == "INACTIVE" {
			return nil, false, nil
		}
		return map[string]any{"arn": arn, "name": aws.ToString(c.ClusterName)}, true, nil
	}
	return nil, false, nil
}

func (p *Provider) deleteCluster(ctx context.Context, arn string) error {
	_, err := p.ecsClient.DeleteCluster(ctx, &ecs.DeleteClusterInput{Cluster: aws.String(arn)})
	if err != nil && !isNotFound(err, "ClusterNotFoundException") {
		return fmt.Errorf("deleting cluster %s: %w", arn, err)
	}
	return nil
}

// Task definition

func containerDefinitions(attrs map[string]any) []ecstypes.ContainerDefinition {
	var defs []ecstypes.ContainerDefinition
	for _, c := range mapSliceAttr(attrs, "container_definitions") {
		def := ecstypes.ContainerDefinition{
			Name:      aws.String(strAttr(c, "name")),
			Image:     aws.String(strAttr(c, "image")),
			Essential: aws.Bool(true),
		}
		if e, ok := c["essential"].(bool); ok {
			def.Essential = aws.Bool(e)
		}
		for _, pm := range mapSliceAttr(c, "port_mappings") {
			def.PortMappings = append(def.PortMappings, ecstypes.PortMapping{
				ContainerPort: aws.Int32(intAttr(pm, "container_port")),
				Protocol:      ecstypes.TransportProtocolTcp,
			})
		}
		for _, env := range mapSliceAttr(c, "environment") {
			def.Environment = append(def.Environment, ecstypes.KeyValuePair{
				Name:  aws.String(strAttr(env, "name")),
				Value: aws.String(strAttr(env, "value")),
			})
		}
		defs = append(defs, def)
	}
	return defs
}

func (p *Provider) registerTaskDefinition(ctx context.Context, name string, attrs map[string]any) (string, map[string]any, error) {
	family := strAttr(attrs, "family")
	if family == "" {
		family = name
	}
	in := &ecs.RegisterTaskDefinitionInput{
		Family:                  aws.String(family),
		ContainerDefinitions:    containerDefinitions(attrs),
		RequiresCompatibilities: []ecstypes.Compatibility{ecstypes.CompatibilityFargate},
		NetworkMode:             ecstypes.NetworkModeAwsvpc,
		Tags:                    ecsTags(name, tagMapAttr(attrs, "tags")),
	}
	if cpu := strAttr(attrs, "cpu"); cpu != "" {
		in.Cpu = aws.String(cpu)
	}
	if mem := strAttr(attrs, "memory"); mem != "" {
		in.Memory = aws.String(mem)
	}
	if role := strAttr(attrs, "execution_role_arn"); role != "" {
		in.ExecutionRoleArn = aws.String(role)
	}
	if role := strAttr(attrs, "task_role_arn"); role != "" {
		in.TaskRoleArn = aws.String(role)
	}
	out, err := p.ecsClient.RegisterTaskDefinition(ctx, in)
	if err != nil {
		return "", nil, fmt.Errorf("registering task definition %s: %w", family, err)
	}
	td := out.TaskDefinition
	arn := aws.ToString(td.TaskDefinitionArn)
	return arn, map[string]any{
		"arn":      arn,
		"family":   family,
		"revision": int(td.Revision),
	}, nil
}

func (p *Provider) createTaskDefinition(ctx context.Context, name string, attrs map[string]any) (string, map[string]any, error) {
	return p.registerTaskDefinition(ctx, name, attrs)
}

func (p *Provider) readTaskDefinition(ctx context.Context, arn string) (map[string]any, bool, error) {
	out, err := p.ecsClient.DescribeTaskDefinition(ctx, &ecs.DescribeTaskDefinitionInput{
		TaskDefinition: aws.String(arn),
	})
	if err != nil {
		// DescribeTaskDefinition reports missing revisions as a client
		// exception instead of a dedicated not-found code.
		if isNotFound(err, "ClientException") && strings.Contains(err.Error(), "Unable to describe") {
			return nil, false, nil
		}
		return nil, false, err
	}
	td := out.TaskDefinition
	if td.Status == ecstypes.TaskDefinitionStatusInactive {
		return nil, false, nil
	}
	return map[string]any{
		"arn":      arn,
		"family":   aws.ToString(td.Family),
		"revision": int(td.Revision),
	}, true, nil
}

// A task definition revision is immutable, so an update registers a new
// revision under the same family.
func (p *Provider) updateTaskDefinition(ctx context.Context, identity string, attrs map[string]any) (map[string]any, error) {
	family := strAttr(attrs, "family")
	_, produced, err := p.registerTaskDefinition(ctx, family, attrs)
	if err != nil {
		return nil, err
	}
	return produced, nil
}

func (p *Provider) deleteTaskDefinition(ctx context.Context, arn string) error {
	_, err := p.ecsClient.DeregisterTaskDefinition(ctx, &ecs.DeregisterTaskDefinitionInput{
		TaskDefinition: aws.String(arn),
	})
	if err != nil && !isNotFound(err, "ClientException") {
		return fmt.Errorf("deregistering task definition %s: %w", arn, err)
	}
	return nil
}

// Service

func serviceNetworkConfig(attrs map[string]any) *ecstypes.NetworkConfiguration {
	subnets := strSliceAttr(attrs, "subnets")
	if len(subnets) == 0 {
		return nil
	}
	assign := ecstypes.AssignPublicIpDisabled
	if boolAttr(attrs, "assign_public_ip") {
		assign = ecstypes.AssignPublicIpEnabled
	}
	return &ecstypes.NetworkConfiguration{
		AwsvpcConfiguration: &ecstypes.AwsVpcConfiguration{
			Subnets:        subnets,
			SecurityGroups: strSliceAttr(attrs, "security_groups"),
			AssignPublicIp: assign,
		},
	}
}

func serviceLoadBalancers(attrs map[string]any) []ecstypes.LoadBalancer {
	tgArn := strAttr(attrs, "target_group_arn")
	if tgArn == "" {
		return nil
	}
	return []ecstypes.LoadBalancer{{
		TargetGroupArn: aws.String(tgArn),
		ContainerName:  aws.String(strAttr(attrs, "container_name")),
		ContainerPort:  aws.Int32(intAttr(attrs, "container_port")),
	}}
}

func (p *Provider) createService(ctx context.Context, name string, attrs map[string]any) (string, map[string]any, error) {
	svcName := strAttr(attrs, "name")
	if svcName == "" {
		svcName = name
	}
	cluster := strAttr(attrs, "cluster")

	// A retried create finds the service already ACTIVE.
	existing, err := p.ecsClient.DescribeServices(ctx, &ecs.DescribeServicesInput{
		Cluster:  aws.String(cluster),
		Services: []string{svcName},
	})
	if err == nil {
		for _, svc := range existing.Services {
			if aws.ToString(svc.Status) == "ACTIVE" {
				arn := aws.ToString(svc.ServiceArn)
				return arn, serviceOutputs(svc), nil
			}
		}
	}

	out, err := p.ecsClient.CreateService(ctx, &ecs.CreateServiceInput{
		Cluster:              aws.String(cluster),
		ServiceName:          aws.String(svcName),
		TaskDefinition:       aws.String(strAttr(attrs, "task_definition")),
		DesiredCount:         aws.Int32(intAttr(attrs, "desired_count")),
		LaunchType:           ecstypes.LaunchTypeFargate,
		NetworkConfiguration: serviceNetworkConfig(attrs),
		LoadBalancers:        serviceLoadBalancers(attrs),
		Tags:                 ecsTags(name, tagMapAttr(attrs, "tags")),
	})
	if err != nil {
		return "", nil, fmt.Errorf("creating service %s: %w", svcName, err)
	}
	arn := aws.ToString(out.Service.ServiceArn)
	return arn, serviceOutputs(*out.Service), nil
}

func serviceOutputs(svc ecstypes.Service) map[string]any {
	return map[string]any{
		"arn":           aws.ToString(svc.ServiceArn),
		"name":          aws.ToString(svc.ServiceName),
		"desired_count": int(svc.DesiredCount),
	}
}

// serviceCluster extracts the cluster from a service ARN of the form
// arn:aws:ecs:region:account:service/cluster/name.
func serviceCluster(arn string) (cluster, name string) {
	parts := strings.Split(arn, "/")
	if len(parts) >= 3 {
		return parts[len(parts)-2], parts[len(parts)-1]
	}
	if len(parts) == 2 {
		return "default", parts[1]
	}
	return "default", arn
}

func (p *Provider) readService(ctx context.Context, arn string) (map[string]any, bool, error) {
	cluster, _ := serviceCluster(arn)
	out, err := p.ecsClient.DescribeServices(ctx, &ecs.DescribeServicesInput{
		Cluster:  aws.String(cluster),
		Services: []string{arn},
	})
	if err != nil {
		if isNotFound(err, "ClusterNotFoundException", "ServiceNotFoundException") {
			return nil, false, nil
		}
		return nil, false, err
	}
	for _, svc := range out.Services {
		if aws.ToString(svc.ServiceArn) != arn {
			continue
		}
		if aws.ToString(svc.Status) == "INACTIVE" {
			return nil, false, nil
		}
		attrs := serviceOutputs(svc)
		attrs["task_definition"] = aws.ToString(svc.TaskDefinition)
		return attrs, true, nil
	}
	return nil, false, nil
}

func (p *Provider) updateService(ctx context.Context, arn string, attrs map[string]any) (map[string]any, error) {
	cluster, name := serviceCluster(arn)
	out, err := p.ecsClient.UpdateService(ctx, &ecs.UpdateServiceInput{
		Cluster:        aws.String(cluster),
		Service:        aws.String(name),
		TaskDefinition: aws.String(strAttr(attrs, "task_definition")),
		DesiredCount:   aws.Int32(intAttr(attrs, "desired_count")),
	})
	if err != nil {
		return nil, fmt.Errorf("updating service %s: %w", arn, err)
	}
	return serviceOutputs(*out.Service), nil
}

func (p *Provider) deleteService(ctx context.Context, arn string) error {
	cluster, name := serviceCluster(arn)
	// Scale to zero first so deletion does not wait on running tasks.
	_, err := p.ecsClient.UpdateService(ctx, &ecs.UpdateServiceInput{
		Cluster:      aws.String(cluster),
		Service:      aws.String(name),
		DesiredCount: aws.Int32(0),
	})
	if err != nil {
		if isNotFound(err, "ServiceNotFoundException", "ServiceNotActiveException", "ClusterNotFoundException") {
			return nil
		}
		return fmt.Errorf("draining service %s: %w", arn, err)
	}
	_, err = p.ecsClient.DeleteService(ctx, &ecs.DeleteServiceInput{
		Cluster: aws.String(cluster),
		Service: aws.String(name),
		Force:   aws.Bool(true),
	})
	if err != nil && !isNotFound(err, "ServiceNotFoundException", "ServiceNotActiveException") {
		return fmt.Errorf("deleting service %s: %w", arn, err)
	}
	return nil
}
