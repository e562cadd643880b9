// Copyright 2025 go-highway Authors
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

package ast

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMask(t *testing.T) {
	m, err := MaskFromNonzeros([]int{2, 3}, [][]int{{0, 0}, {1, 2}})
	require.NoError(t, err)
	assert.Equal(t, 2, m.Count())
	assert.True(t, m.At([]int{1, 2}))
	assert.False(t, m.At([]int{1, 0}))
	assert.True(t, m.Any())
	assert.False(t, m.All())

	want := "x..\n..x\n"
	if diff := cmp.Diff(want, m.String()); diff != "" {
		t.Errorf("String() mismatch (-want +got):\n%s", diff)
	}

	c := m.Clone()
	c.Set([]int{0, 1}, true)
	assert.False(t, m.Equal(c))
	assert.Equal(t, 2, m.Count(), "Clone must not share storage")

	assert.True(t, DenseMask([]int{2, 2}).All())
	assert.False(t, NewMask([]int{2, 2}, false).Any())

	_, err = MaskFromNonzeros([]int{2, 3}, [][]int{{2, 0}})
	assert.Error(t, err)
	_, err = MaskFromNonzeros([]int{2, 3}, [][]int{{0}})
	assert.Error(t, err)
}

func TestForEachIndex(t *testing.T) {
	var got [][]int
	ForEachIndex([]int{2, 3}, func(pos []int) {
		got = append(got, append([]int(nil), pos...))
	})
	want := [][]int{{0, 0}, {1, 0}, {0, 1}, {1, 1}, {0, 2}, {1, 2}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ForEachIndex order mismatch (-want +got):\n%s", diff)
	}

	calls := 0
	ForEachIndex(nil, func([]int) { calls++ })
	assert.Equal(t, 1, calls, "rank 0 yields one coordinate")
}

func TestMemoryLayout(t *testing.T) {
	l := NewMemoryLayout(MustIndices("ijk", 2, 3, 4))
	assert.Equal(t, 1, l.Stride('i'))
	assert.Equal(t, 2, l.Stride('j'))
	assert.Equal(t, 6, l.Stride('k'))
	assert.Equal(t, 6, l.Stridei(2))
	assert.Equal(t, 24, l.Stridei(3))
	assert.Equal(t, 24, l.NumElements())
	assert.Equal(t, 1+2*2+3*6, l.Address(map[rune]int{'i': 1, 'j': 2, 'k': 3, 'x': 7}))
	assert.Panics(t, func() { l.Stride('x') })
}

func TestTensorFamily(t *testing.T) {
	f, err := NewTensorFamily("F", []int{2, 3}, []int{4, 4}, func(group []int) *Mask {
		if group[0] == 0 {
			return nil
		}
		return NewMask([]int{4, 4}, false)
	})
	require.NoError(t, err)
	require.Len(t, f.Members(), 6)

	m := f.At(1, 2)
	assert.Equal(t, "F[1][2]", m.Name())
	assert.Equal(t, "F", m.BaseName())
	assert.Equal(t, []int{1, 2}, m.Group())
	assert.Equal(t, 5, f.Linear([]int{1, 2}))
	assert.Equal(t, 5, m.FamilyIndex())
	assert.Equal(t, 6, m.FamilySize())
	assert.Same(t, f.Members()[3], f.At(1, 0))
	assert.Nil(t, f.At(0, 1).Spp())
	assert.False(t, m.EffectiveSpp().Any())
	assert.True(t, f.At(0, 0).EffectiveSpp().All())
	assert.Panics(t, func() { f.At(2, 0) })

	plain := MustTensor("A", []int{3}, nil)
	assert.Equal(t, "A", plain.Name())
	assert.Equal(t, 0, plain.FamilySize())

	_, err = NewTensor("B", []int{2, 2}, NewMask([]int{2, 3}, true))
	assert.Error(t, err, "pattern shape must match")
}
