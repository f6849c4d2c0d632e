/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package debughost

import (
	"context"
	"fmt"
	"strings"

	"github.com/microsoft/debugbridge/internal/protocol"
)

const DefaultRegisterDepth = 4

// RegisterNode is either a RegisterLeaf or a RegisterCategory.
type RegisterNode interface {
	isRegisterNode()
}

type RegisterLeaf struct {
	Value string `json:"value"`
	Type  string `json:"type,omitempty"`
}

// RegisterCategory groups registers (e.g. "General Purpose Registers") by name.
type RegisterCategory map[string]RegisterNode

func (RegisterLeaf) isRegisterNode()     {}
func (RegisterCategory) isRegisterNode() {}

// BuildRegisterTree expands the "Registers" scope of a frame into a tree.
// Expansion stops at maxDepth levels, and each variables reference is expanded at most once,
// so self-referential adapter responses cannot cause unbounded recursion.
// Nodes that are not expanded are reported as leaves with their display value.
func BuildRegisterTree(ctx context.Context, src VariableSource, frameID int, maxDepth int) (RegisterCategory, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultRegisterDepth
	}

	scopes, scopesErr := src.Scopes(ctx, frameID)
	if scopesErr != nil {
		return nil, scopesErr
	}

	ref := 0
	for _, scope := range scopes {
		if strings.Contains(strings.ToLower(scope.Name), "register") && scope.VariablesReference > 0 {
			ref = scope.VariablesReference
			break
		}
	}
	if ref == 0 {
		return nil, &protocol.NotFoundError{Kind: "scope", Name: "Registers"}
	}

	b := &registerTreeBuilder{src: src, maxDepth: maxDepth, visited: map[int]bool{}}
	return b.expand(ctx, ref, 1)
}

type registerTreeBuilder struct {
	src      VariableSource
	maxDepth int
	visited  map[int]bool
}

func (b *registerTreeBuilder) expand(ctx context.Context, ref int, depth int) (RegisterCategory, error) {
	b.visited[ref] = true

	vars, varsErr := b.src.Variables(ctx, ref)
	if varsErr != nil {
		return nil, fmt.Errorf("could not read registers (reference %d): %w", ref, varsErr)
	}

	category := make(RegisterCategory, len(vars))
	for _, v := range vars {
		child := v.VariablesReference
		if child <= 0 || depth >= b.maxDepth || b.visited[child] {
			category[v.Name] = RegisterLeaf{Value: v.Value, Type: v.Type}
			continue
		}

		sub, subErr := b.expand(ctx, child, depth+1)
		if subErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			category[v.Name] = RegisterLeaf{Value: v.Value, Type: v.Type}
			continue
		}
		category[v.Name] = sub
	}
	return category, nil
}
