package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

func ec2Tags(name string, tags map[string]string) []ec2types.Tag {
	out := []ec2types.Tag{
		{Key: aws.String("Name"), Value: aws.String(name)},
		{Key: aws.String(idempotencyTagKey), Value: aws.String(token(name))},
	}
	for k, v := range tags {
		if k == "Name" || k == idempotencyTagKey {
			continue
		}
		out = append(out, ec2types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return out
}

func tokenFilter(name string) ec2types.Filter {
	return ec2types.Filter{
		Name:   aws.String("tag:" + idempotencyTagKey),
		Values: []string{token(name)},
	}
}

// VPC

func (p *Provider) createVpc(ctx context.Context, name string, attrs map[string]any) (string, map[string]any, error) {
	// Adopt a VPC left behind by a create that timed out after the API
	// call went through.
	existing, err := p.ec2Client.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{
		Filters: []ec2types.Filter{tokenFilter(name)},
	})
	if err != nil {
		return "", nil, fmt.Errorf("looking up existing VPC: %w", err)
	}
	if len(existing.Vpcs) > 0 {
		vpc := existing.Vpcs[0]
		return aws.ToString(vpc.VpcId), vpcOutputs(vpc), nil
	}

	out, err := p.ec2Client.CreateVpc(ctx, &ec2.CreateVpcInput{
		CidrBlock: aws.String(strAttr(attrs, "cidr_block")),
		TagSpecifications: []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeVpc,
			Tags:         ec2Tags(name, tagMapAttr(attrs, "tags")),
		}},
	})
	if err != nil {
		return "", nil, fmt.Errorf("creating VPC: %w", err)
	}

	id := aws.ToString(out.Vpc.VpcId)
	if boolAttr(attrs, "enable_dns_hostnames") {
		_, err = p.ec2Client.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
			VpcId:              aws.String(id),
			EnableDnsHostnames: &ec2types.AttributeBooleanValue{Value: aws.Bool(true)},
		})
		if err != nil {
			return id, nil, fmt.Errorf("enabling DNS hostnames on %s: %w", id, err)
		}
	}
	return id, vpcOutputs(*out.Vpc), nil
}

func vpcOutputs(vpc ec2types.Vpc) map[string]any {
	return map[string]any{
		"id":         aws.ToString(vpc.VpcId),
		"cidr_block": aws.ToString(vpc.CidrBlock),
	}
}

func (p *Provider) readVpc(ctx context.Context, id string) (map[string]any, bool, error) {
	out, err := p.ec2Client.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{VpcIds: []string{id}})
	if err != nil {
		if isNotFound(err, "InvalidVpcID.NotFound") {
			return nil, false, nil
		}
		return nil, false, err
	}
	if len(out.Vpcs) == 0 {
		return nil, false, nil
	}
	return vpcOutputs(out.Vpcs[0]), true, nil
}

func (p *Provider) updateVpc(ctx context.Context, id string, attrs map[string]any) (map[string]any, error) {
	_, err := p.ec2Client.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
		VpcId:              aws.String(id),
		EnableDnsHostnames: &ec2types.AttributeBooleanValue{Value: aws.Bool(boolAttr(attrs, "enable_dns_hostnames"))},
	})
	if err != nil {
		return nil, fmt.Errorf("updating VPC %s: %w", id, err)
	}
	return map[string]any{"id": id, "cidr_block": strAttr(attrs, "cidr_block")}, nil
}

func (p *Provider) deleteVpc(ctx context.Context, id string) error {
	_, err := p.ec2Client.DeleteVpc(ctx, &ec2.DeleteVpcInput{VpcId: aws.String(id)})
	if err != nil && !isNotFound(err, "InvalidVpcID.NotFound") {
		return fmt.Errorf("deleting VPC %s: %w", id, err)
	}
	return nil
}

// Subnet

func (p *Provider) createSubnet(ctx context.Context, name string, attrs map[string]any) (string, map[string]any, error) {
	existing, err := p.ec2Client.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{
		Filters: []ec2types.Filter{tokenFilter(name)},
	})
	if err != nil {
		return "", nil, fmt.Errorf("looking up existing subnet: %w", err)
	}
	if len(existing.Subnets) > 0 {
		sn := existing.Subnets[0]
		return aws.ToString(sn.SubnetId), subnetOutputs(sn), nil
	}

	in := &ec2.CreateSubnetInput{
		VpcId:     aws.String(strAttr(attrs, "vpc_id")),
		CidrBlock: aws.String(strAttr(attrs, "cidr_block")),
		TagSpecifications: []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeSubnet,
			Tags:         ec2Tags(name, tagMapAttr(attrs, "tags")),
		}},
	}
	if az := strAttr(attrs, "availability_zone"); az != "" {
		in.AvailabilityZone = aws.String(az)
	}
	out, err := p.ec2Client.CreateSubnet(ctx, in)
	if err != nil {
		return "", nil, fmt.Errorf("creating subnet: %w", err)
	}

	id := aws.ToString(out.Subnet.SubnetId)
	if boolAttr(attrs, "map_public_ip_on_launch") {
		_, err = p.ec2Client.ModifySubnetAttribute(ctx, &ec2.ModifySubnetAttributeInput{
			SubnetId:            aws.String(id),
			MapPublicIpOnLaunch: &ec2types.AttributeBooleanValue{Value: aws.Bool(true)},
		})
		if err != nil {
			return id, nil, fmt.Errorf("setting public IP mapping on %s: %w", id, err)
		}
	}
	return id, subnetOutputs(*out.Subnet), nil
}

func subnetOutputs(sn ec2types.Subnet) map[string]any {
	return map[string]any{
		"id":                aws.ToString(sn.SubnetId),
		"vpc_id":            aws.ToString(sn.VpcId),
		"cidr_block":        aws.ToString(sn.CidrBlock),
		"availability_zone": aws.ToString(sn.AvailabilityZone),
	}
}

func (p *Provider) readSubnet(ctx context.Context, id string) (map[string]any, bool, error) {
	out, err := p.ec2Client.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{SubnetIds: []string{id}})
	if err != nil {
		if isNotFound(err, "InvalidSubnetID.NotFound", "InvalidSubnet.NotFound") {
			return nil, false, nil
		}
		return nil, false, err
	}
	if len(out.Subnets) == 0 {
		return nil, false, nil
	}
	return subnetOutputs(out.Subnets[0]), true, nil
}

func (p *Provider) updateSubnet(ctx context.Context, id string, attrs map[string]any) (map[string]any, error) {
	_, err := p.ec2Client.ModifySubnetAttribute(ctx, &ec2.ModifySubnetAttributeInput{
		SubnetId:            aws.String(id),
		MapPublicIpOnLaunch: &ec2types.AttributeBooleanValue{Value: aws.Bool(boolAttr(attrs, "map_public_ip_on_launch"))},
	})
	if err != nil {
		return nil, fmt.Errorf("updating subnet %s: %w", id, err)
	}
	return map[string]any{
		"id":                id,
		"vpc_id":            strAttr(attrs, "vpc_id"),
		"cidr_block":        strAttr(attrs, "cidr_block"),
		"availability_zone": strAttr(attrs, "availability_zone"),
	}, nil
}

func (p *Provider) deleteSubnet(ctx context.Context, id string) error {
	_, err := p.ec2Client.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{SubnetId: aws.String(id)})
	if err != nil && !isNotFound(err, "InvalidSubnetID.NotFound", "InvalidSubnet.NotFound") {
		return fmt.Errorf("deleting subnet %s: %w", id, err)
	}
	return nil
}

// Internet gateway

func (p *Provider) createInternetGateway(ctx context.Context, name string, attrs map[string]any) (string, map[string]any, error) {
	existing, err := p.ec2Client.DescribeInternetGateways(ctx, &ec2.DescribeInternetGatewaysInput{
		Filters: []ec2types.Filter{tokenFilter(name)},
	})
	if err != nil {
		return "", nil, fmt.Errorf("looking up existing internet gateway: %w", err)
	}

	var id string
	if len(existing.InternetGateways) > 0 {
		igw := existing.InternetGateways[0]
		id = aws.ToString(igw.InternetGatewayId)
		if len(igw.Attachments) > 0 {
			return id, map[string]any{"id": id, "vpc_id": aws.ToString(igw.Attachments[0].VpcId)}, nil
		}
	} else {
		out, err := p.ec2Client.CreateInternetGateway(ctx, &ec2.CreateInternetGatewayInput{
			TagSpecifications: []ec2types.TagSpecification{{
				ResourceType: ec2types.ResourceTypeInternetGateway,
				Tags:         ec2Tags(name, tagMapAttr(attrs, "tags")),
			}},
		})
		if err != nil {
			return "", nil, fmt.Errorf("creating internet gateway: %w", err)
		}
		id = aws.ToString(out.InternetGateway.InternetGatewayId)
	}

	vpcID := strAttr(attrs, "vpc_id")
	_, err = p.ec2Client.AttachInternetGateway(ctx, &ec2.AttachInternetGatewayInput{
		InternetGatewayId: aws.String(id),
		VpcId:             aws.String(vpcID),
	})
	if err != nil && !isNotFound(err, "Resource.AlreadyAssociated") {
		return id, nil, fmt.Errorf("attaching internet gateway %s: %w", id, err)
	}
	return id, map[string]any{"id": id, "vpc_id": vpcID}, nil
}

func (p *Provider) readInternetGateway(ctx context.Context, id string) (map[string]any, bool, error) {
	out, err := p.ec2Client.DescribeInternetGateways(ctx, &ec2.DescribeInternetGatewaysInput{
		InternetGatewayIds: []string{id},
	})
	if err != nil {
		if isNotFound(err, "InvalidInternetGatewayID.NotFound") {
			return nil, false, nil
		}
		return nil, false, err
	}
	if len(out.InternetGateways) == 0 {
		return nil, false, nil
	}
	igw := out.InternetGateways[0]
	attrs := map[string]any{"id": id}
	if len(igw.Attachments) > 0 {
		attrs["vpc_id"] = aws.ToString(igw.Attachments[0].VpcId)
	}
	return attrs, true, nil
}

func (p *Provider) deleteInternetGateway(ctx context.Context, id string) error {
	out, err := p.ec2Client.DescribeInternetGateways(ctx, &ec2.DescribeInternetGatewaysInput{
		InternetGatewayIds: []string{id},
	})
	if err != nil {
		if isNotFound(err, "InvalidInternetGatewayID.NotFound") {
			return nil
		}
		return err
	}
	if len(out.InternetGateways) == 0 {
		return nil
	}
	for _, att := range out.InternetGateways[0].Attachments {
		_, err = p.ec2Client.DetachInternetGateway(ctx, &ec2.DetachInternetGatewayInput{
			InternetGatewayId: aws.String(id),
			VpcId:             att.VpcId,
		})
		if err != nil {
			return fmt.Errorf("detaching internet gateway %s: %w", id, err)
		}
	}
	_, err = p.ec2Client.DeleteInternetGateway(ctx, &ec2.DeleteInternetGatewayInput{InternetGatewayId: aws.String(id)})
	if err != nil && !isNotFound(err, "InvalidInternetGatewayID.NotFound") {
		return fmt.Errorf("deleting internet gateway %s: %w", id, err)
	}
	return nil
}

// Route table

func (p *Provider) createRouteTable(ctx context.Context, name string, attrs map[string]any) (string, map[string]any, error) {
	existing, err := p.ec2Client.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{
		Filters: []ec2types.Filter{tokenFilter(name)},
	})
	if err != nil {
		return "", nil, fmt.Errorf("looking up existing route table: %w", err)
	}

	var id string
	if len(existing.RouteTables) > 0 {
		id = aws.ToString(existing.RouteTables[0].RouteTableId)
	} else {
		out, err := p.ec2Client.CreateRouteTable(ctx, &ec2.CreateRouteTableInput{
			VpcId: aws.String(strAttr(attrs, "vpc_id")),
			TagSpecifications: []ec2types.TagSpecification{{
				ResourceType: ec2types.ResourceTypeRouteTable,
				Tags:         ec2Tags(name, tagMapAttr(attrs, "tags")),
			}},
		})
		if err != nil {
			return "", nil, fmt.Errorf("creating route table: %w", err)
		}
		id = aws.ToString(out.RouteTable.RouteTableId)
	}

	if err := p.syncRoutes(ctx, id, attrs); err != nil {
		return id, nil, err
	}
	return id, map[string]any{"id": id, "vpc_id": strAttr(attrs, "vpc_id")}, nil
}

// syncRoutes converges declared routes onto the table. Existing routes for
// the same destination are replaced rather than duplicated.
func (p *Provider) syncRoutes(ctx context.Context, id string, attrs map[string]any) error {
	for _, route := range mapSliceAttr(attrs, "routes") {
		dest := strAttr(route, "destination_cidr_block")
		in := &ec2.CreateRouteInput{
			RouteTableId:         aws.String(id),
			DestinationCidrBlock: aws.String(dest),
		}
		if gw := strAttr(route, "gateway_id"); gw != "" {
			in.GatewayId = aws.String(gw)
		}
		_, err := p.ec2Client.CreateRoute(ctx, in)
		if err == nil {
			continue
		}
		if !isNotFound(err, "RouteAlreadyExists") {
			return fmt.Errorf("creating route %s on %s: %w", dest, id, err)
		}
		rep := &ec2.ReplaceRouteInput{
			RouteTableId:         aws.String(id),
			DestinationCidrBlock: aws.String(dest),
		}
		if gw := strAttr(route, "gateway_id"); gw != "" {
			rep.GatewayId = aws.String(gw)
		}
		if _, err := p.ec2Client.ReplaceRoute(ctx, rep); err != nil {
			return fmt.Errorf("replacing route %s on %s: %w", dest, id, err)
		}
	}
	return nil
}

func (p *Provider) readRouteTable(ctx context.Context, id string) (map[string]any, bool, error) {
	out, err := p.ec2Client.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{RouteTableIds: []string{id}})
	if err != nil {
		if isNotFound(err, "InvalidRouteTableID.NotFound") {
			return nil, false, nil
		}
		return nil, false, err
	}
	if len(out.RouteTables) == 0 {
		return nil, false, nil
	}
	rt := out.RouteTables[0]
	routes := []any{}
	for _, r := range rt.Routes {
		// "local" routes are implicit and not declared.
		if aws.ToString(r.GatewayId) == "local" {
			continue
		}
		route := map[string]any{"destination_cidr_block": aws.ToString(r.DestinationCidrBlock)}
		if gw := aws.ToString(r.GatewayId); gw != "" {
			route["gateway_id"] = gw
		}
		routes = append(routes, route)
	}
	return map[string]any{
		"id":     id,
		"vpc_id": aws.ToString(rt.VpcId),
		"routes": routes,
	}, true, nil
}

func (p *Provider) updateRouteTable(ctx context.Context, id string, attrs map[string]any) (map[string]any, error) {
	if err := p.syncRoutes(ctx, id, attrs); err != nil {
		return nil, err
	}
	return map[string]any{"id": id, "vpc_id": strAttr(attrs, "vpc_id")}, nil
}

func (p *Provider) deleteRouteTable(ctx context.Context, id string) error {
	_, err := p.ec2Client.DeleteRouteTable(ctx, &ec2.DeleteRouteTableInput{RouteTableId: aws.String(id)})
	if err != nil && !isNotFound(err, "InvalidRouteTableID.NotFound") {
		return fmt.Errorf("deleting route table %s: %w", id, err)
	}
	return nil
}

// Route table association

func (p *Provider) createAssociation(ctx context.Context, name string, attrs map[string]any) (string, map[string]any, error) {
	rtID := strAttr(attrs, "route_table_id")
	subnetID := strAttr(attrs, "subnet_id")

	// Associations are not taggable; detect a prior association of the
	// same subnet to the same table instead.
	existing, err := p.ec2Client.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{
		RouteTableIds: []string{rtID},
	})
	if err != nil {
		return "", nil, fmt.Errorf("looking up route table %s: %w", rtID, err)
	}
	for _, rt := range existing.RouteTables {
		for _, assoc := range rt.Associations {
			if aws.ToString(assoc.SubnetId) == subnetID {
				id := aws.ToString(assoc.RouteTableAssociationId)
				return id, associationOutputs(id, rtID, subnetID), nil
			}
		}
	}

	out, err := p.ec2Client.AssociateRouteTable(ctx, &ec2.AssociateRouteTableInput{
		RouteTableId: aws.String(rtID),
		SubnetId:     aws.String(subnetID),
	})
	if err != nil {
		return "", nil, fmt.Errorf("associating subnet %s with route table %s: %w", subnetID, rtID, err)
	}
	id := aws.ToString(out.AssociationId)
	return id, associationOutputs(id, rtID, subnetID), nil
}

func associationOutputs(id, rtID, subnetID string) map[string]any {
	return map[string]any{"id": id, "route_table_id": rtID, "subnet_id": subnetID}
}

func (p *Provider) readAssociation(ctx context.Context, id string) (map[string]any, bool, error) {
	out, err := p.ec2Client.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{
		Filters: []ec2types.Filter{{
			Name:   aws.String("association.route-table-association-id"),
			Values: []string{id},
		}},
	})
	if err != nil {
		return nil, false, err
	}
	for _, rt := range out.RouteTables {
		for _, assoc := range rt.Associations {
			if aws.ToString(assoc.RouteTableAssociationId) == id {
				return associationOutputs(id, aws.ToString(rt.RouteTableId), aws.ToString(assoc.SubnetId)), true, nil
			}
		}
	}
	return nil, false, nil
}

func (p *Provider) deleteAssociation(ctx context.Context, id string) error {
	_, err := p.ec2Client.DisassociateRouteTable(ctx, &ec2.DisassociateRouteTableInput{
		AssociationId: aws.String(id),
	})
	if err != nil && !isNotFound(err, "InvalidAssociationID.NotFound") {
		return fmt.Errorf("disassociating route table association %s: %w", id, err)
	}
	return nil
}

// Security group

func (p *Provider) createSecurityGroup(ctx context.Context, name string, attrs map[string]any) (string, map[string]any, error) {
	existing, err := p.ec2Client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []ec2types.Filter{tokenFilter(name)},
	})
	if err != nil {
		return "", nil, fmt.Errorf("looking up existing security group: %w", err)
	}

	var id string
	if len(existing.SecurityGroups) > 0 {
		id = aws.ToString(existing.SecurityGroups[0].GroupId)
	} else {
		groupName := strAttr(attrs, "name")
		if groupName == "" {
			groupName = name
		}
		description := strAttr(attrs, "description")
		if description == "" {
			description = "managed by stratus"
		}
		out, err := p.ec2Client.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
			GroupName:   aws.String(groupName),
			Description: aws.String(description),
			VpcId:       aws.String(strAttr(attrs, "vpc_id")),
			TagSpecifications: []ec2types.TagSpecification{{
				ResourceType: ec2types.ResourceTypeSecurityGroup,
				Tags:         ec2Tags(name, tagMapAttr(attrs, "tags")),
			}},
		})
		if err != nil {
			return "", nil, fmt.Errorf("creating security group: %w", err)
		}
		id = aws.ToString(out.GroupId)
	}

	if err := p.syncSecurityGroupRules(ctx, id, attrs); err != nil {
		return id, nil, err
	}
	return id, map[string]any{"id": id, "vpc_id": strAttr(attrs, "vpc_id")}, nil
}

func ipPermissions(rules []map[string]any) []ec2types.IpPermission {
	perms := make([]ec2types.IpPermission, 0, len(rules))
	for _, rule := range rules {
		perm := ec2types.IpPermission{
			IpProtocol: aws.String(strAttr(rule, "protocol")),
		}
		if perm.IpProtocol == nil || aws.ToString(perm.IpProtocol) == "" {
			perm.IpProtocol = aws.String("-1")
		}
		if aws.ToString(perm.IpProtocol) != "-1" {
			perm.FromPort = aws.Int32(intAttr(rule, "from_port"))
			perm.ToPort = aws.Int32(intAttr(rule, "to_port"))
		}
		for _, cidr := range strSliceAttr(rule, "cidr_blocks") {
			perm.IpRanges = append(perm.IpRanges, ec2types.IpRange{CidrIp: aws.String(cidr)})
		}
		for _, sg := range strSliceAttr(rule, "security_groups") {
			perm.UserIdGroupPairs = append(perm.UserIdGroupPairs, ec2types.UserIdGroupPair{GroupId: aws.String(sg)})
		}
		perms = append(perms, perm)
	}
	return perms
}

func (p *Provider) syncSecurityGroupRules(ctx context.Context, id string, attrs map[string]any) error {
	if ingress := ipPermissions(mapSliceAttr(attrs, "ingress")); len(ingress) > 0 {
		_, err := p.ec2Client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId:       aws.String(id),
			IpPermissions: ingress,
		})
		if err != nil && !isNotFound(err, "InvalidPermission.Duplicate") {
			return fmt.Errorf("authorizing ingress on %s: %w", id, err)
		}
	}
	if egress := ipPermissions(mapSliceAttr(attrs, "egress")); len(egress) > 0 {
		_, err := p.ec2Client.AuthorizeSecurityGroupEgress(ctx, &ec2.AuthorizeSecurityGroupEgressInput{
			GroupId:       aws.String(id),
			IpPermissions: egress,
		})
		if err != nil && !isNotFound(err, "InvalidPermission.Duplicate") {
			return fmt.Errorf("authorizing egress on %s: %w", id, err)
		}
	}
	return nil
}

func (p *Provider) readSecurityGroup(ctx context.Context, id string) (map[string]any, bool, error) {
	out, err := p.ec2Client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{GroupIds: []string{id}})
	if err != nil {
		if isNotFound(err, "InvalidGroup.NotFound", "InvalidGroupId.Malformed") {
			return nil, false, nil
		}
		return nil, false, err
	}
	if len(out.SecurityGroups) == 0 {
		return nil, false, nil
	}
	sg := out.SecurityGroups[0]
	return map[string]any{
		"id":          id,
		"vpc_id":      aws.ToString(sg.VpcId),
		"name":        aws.ToString(sg.GroupName),
		"description": aws.ToString(sg.Description),
	}, true, nil
}

func (p *Provider) updateSecurityGroup(ctx context.Context, id string, attrs map[string]any) (map[string]any, error) {
	if err := p.syncSecurityGroupRules(ctx, id, attrs); err != nil {
		return nil, err
	}
	return map[string]any{"id": id, "vpc_id": strAttr(attrs, "vpc_id")}, nil
}

func (p *Provider) deleteSecurityGroup(ctx context.Context, id string) error {
	_, err := p.ec2Client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: aws.String(id)})
	if err != nil && !isNotFound(err, "InvalidGroup.NotFound") {
		return fmt.Errorf("deleting security group %s: %w", id, err)
	}
	return nil
}
