// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mir

import (
	"encoding/json"
	"fmt"
	"os"
)

// Program is the on-disk shape of a MIR input (spec.md §6.1): every
// monomorphised function body plus the entry point to start on the
// main thread. Front-end lowering into this shape is out of scope
// (spec.md §1 non-goals); cmd/mirvm only needs to decode what an
// external producer already emitted.
type Program struct {
	Bodies []*Body `json:"bodies"`
	Entry  DefID   `json:"entry"`
}

// LoadProgram decodes a Program from a JSON file at path.
func LoadProgram(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read program: %w", err)
	}
	var p Program
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode program: %w", err)
	}
	return &p, nil
}

// BodiesByID indexes p's bodies for Interp.Bodies.
func (p *Program) BodiesByID() map[DefID]*Body {
	out := make(map[DefID]*Body, len(p.Bodies))
	for _, b := range p.Bodies {
		out[b.ID] = b
	}
	return out
}
