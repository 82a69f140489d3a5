package aws

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
)

func iamTags(name string, tags map[string]string) []iamtypes.Tag {
	out := []iamtypes.Tag{
		{Key: aws.String(idempotencyTagKey), Value: aws.String(token(name))},
	}
	for k, v := range tags {
		if k == idempotencyTagKey {
			continue
		}
		out = append(out, iamtypes.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return out
}

// Role

func (p *Provider) createRole(ctx context.Context, name string, attrs map[string]any) (string, map[string]any, error) {
	roleName := strAttr(attrs, "name")
	if roleName == "" {
		roleName = name
	}
	out, err := p.iamClient.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 aws.String(roleName),
		AssumeRolePolicyDocument: aws.String(strAttr(attrs, "assume_role_policy")),
		Tags:                     iamTags(name, tagMapAttr(attrs, "tags")),
	})
	if err != nil {
		if isNotFound(err, "EntityAlreadyExists") {
			// Adopt the role a previous timed-out create left behind.
			got, gerr := p.iamClient.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(roleName)})
			if gerr != nil {
				return "", nil, fmt.Errorf("adopting existing role %s: %w", roleName, gerr)
			}
			return roleName, roleOutputs(got.Role), nil
		}
		return "", nil, fmt.Errorf("creating role %s: %w", roleName, err)
	}
	return roleName, roleOutputs(out.Role), nil
}

func roleOutputs(role *iamtypes.Role) map[string]any {
	return map[string]any{
		"arn":  aws.ToString(role.Arn),
		"name": aws.ToString(role.RoleName),
	}
}

func (p *Provider) readRole(ctx context.Context, roleName string) (map[string]any, bool, error) {
	out, err := p.iamClient.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(roleName)})
	if err != nil {
		if isNotFound(err, "NoSuchEntity") {
			return nil, false, nil
		}
		return nil, false, err
	}
	attrs := roleOutputs(out.Role)
	// The document comes back URL-encoded.
	if doc := aws.ToString(out.Role.AssumeRolePolicyDocument); doc != "" {
		if decoded, derr := url.QueryUnescape(doc); derr == nil {
			attrs["assume_role_policy"] = decoded
		}
	}
	return attrs, true, nil
}

func (p *Provider) updateRole(ctx context.Context, roleName string, attrs map[string]any) (map[string]any, error) {
	if doc := strAttr(attrs, "assume_role_policy"); doc != "" {
		_, err := p.iamClient.UpdateAssumeRolePolicy(ctx, &iam.UpdateAssumeRolePolicyInput{
			RoleName:       aws.String(roleName),
			PolicyDocument: aws.String(doc),
		})
		if err != nil {
			return nil, fmt.Errorf("updating assume role policy on %s: %w", roleName, err)
		}
	}
	got, err := p.iamClient.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(roleName)})
	if err != nil {
		return map[string]any{"name": roleName}, nil
	}
	return roleOutputs(got.Role), nil
}

func (p *Provider) deleteRole(ctx context.Context, roleName string) error {
	// Attached managed policies block role deletion.
	attached, err := p.iamClient.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{
		RoleName: aws.String(roleName),
	})
	if err != nil {
		if isNotFound(err, "NoSuchEntity") {
			return nil
		}
		return fmt.Errorf("listing policies on role %s: %w", roleName, err)
	}
	for _, policy := range attached.AttachedPolicies {
		_, err := p.iamClient.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
			RoleName:  aws.String(roleName),
			PolicyArn: policy.PolicyArn,
		})
		if err != nil && !isNotFound(err, "NoSuchEntity") {
			return fmt.Errorf("detaching policy %s from role %s: %w", aws.ToString(policy.PolicyArn), roleName, err)
		}
	}
	_, err = p.iamClient.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: aws.String(roleName)})
	if err != nil && !isNotFound(err, "NoSuchEntity") {
		return fmt.Errorf("deleting role %s: %w", roleName, err)
	}
	return nil
}

// Policy attachment

// attachmentIdentity encodes role and policy ARN into one identity string,
// since the attachment has no identifier of its own.
func attachmentIdentity(role, policyArn string) string {
	return role + "|" + policyArn
}

func splitAttachmentIdentity(identity string) (role, policyArn string, ok bool) {
	role, policyArn, ok = strings.Cut(identity, "|")
	return role, policyArn, ok
}

func (p *Provider) createPolicyAttachment(ctx context.Context, name string, attrs map[string]any) (string, map[string]any, error) {
	role := strAttr(attrs, "role")
	policyArn := strAttr(attrs, "policy_arn")
	// AttachRolePolicy is idempotent; re-attaching succeeds silently.
	_, err := p.iamClient.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
		RoleName:  aws.String(role),
		PolicyArn: aws.String(policyArn),
	})
	if err != nil {
		return "", nil, fmt.Errorf("attaching policy %s to role %s: %w", policyArn, role, err)
	}
	id := attachmentIdentity(role, policyArn)
	return id, map[string]any{"id": id, "role": role, "policy_arn": policyArn}, nil
}

func (p *Provider) readPolicyAttachment(ctx context.Context, identity string) (map[string]any, bool, error) {
	role, policyArn, ok := splitAttachmentIdentity(identity)
	if !ok {
		return nil, false, fmt.Errorf("malformed policy attachment identity: %s", identity)
	}
	out, err := p.iamClient.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{
		RoleName: aws.String(role),
	})
	if err != nil {
		if isNotFound(err, "NoSuchEntity") {
			return nil, false, nil
		}
		return nil, false, err
	}
	for _, policy := range out.AttachedPolicies {
		if aws.ToString(policy.PolicyArn) == policyArn {
			return map[string]any{"id": identity, "role": role, "policy_arn": policyArn}, true, nil
		}
	}
	return nil, false, nil
}

func (p *Provider) deletePolicyAttachment(ctx context.Context, identity string) error {
	role, policyArn, ok := splitAttachmentIdentity(identity)
	if !ok {
		return fmt.Errorf("malformed policy attachment identity: %s", identity)
	}
	_, err := p.iamClient.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
		RoleName:  aws.String(role),
		PolicyArn: aws.String(policyArn),
	})
	if err != nil && !isNotFound(err, "NoSuchEntity") {
		return fmt.Errorf("detaching policy %s from role %s: %w", policyArn, role, err)
	}
	return nil
}
