// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"errors"
)

// GetList loads a JSON list record, returning an empty list when absent
func GetList[T any](ctx context.Context, s Store, key string) ([]T, error) {
	list, _, err := GetJSON[[]T](ctx, s, key)
	if err != nil {
		return nil, err
	}
	return list, nil
}

// RemoveFromList deletes every element matching match from a JSON list
// record and returns how many were removed. The record is not rewritten when
// nothing matches.
func RemoveFromList[T any](
	ctx context.Context,
	s Store,
	key string,
	match func(T) bool,
) (int, error) {
	var removed int
	err := MutateJSON(
		ctx,
		s,
		key,
		func(cur []T, _ bool) ([]T, error) {
			removed = 0
			next := make([]T, 0, len(cur))
			for _, item := range cur {
				if match(item) {
					removed++
					continue
				}
				next = append(next, item)
			}
			if removed == 0 {
				return nil, ErrSkipWrite
			}
			return next, nil
		},
	)
	if err != nil && !errors.Is(err, ErrSkipWrite) {
		return 0, err
	}
	return removed, nil
}
