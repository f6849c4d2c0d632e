/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package pointers has helpers for the optional (pointer) fields of wire types.
package pointers

// To returns a pointer to a copy of v.
func To[T any](v T) *T {
	return &v
}

// EqualValue reports whether two optional values are equal. Two nil pointers are equal.
func EqualValue[T comparable](p1 *T, p2 *T) bool {
	if p1 == nil || p2 == nil {
		return p1 == p2
	}
	return *p1 == *p2
}

func GetValueOrDefault[T any](p *T, defaultValue T) T {
	if p == nil {
		return defaultValue
	}
	return *p
}

// Duplicate returns a pointer to a copy of the value p points to, or nil if p is nil.
func Duplicate[T any](p *T) *T {
	if p == nil {
		return nil
	}
	return To(*p)
}
