// Copyright 2016 The Sandpass Authors
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

package kdbx

import "fmt"

//go:generate mockgen -source=progress.go -destination=progress_mock_test.go -package=kdbx

// Phase is a coarse stage of loading or saving a database.
type Phase int

// Phases
const (
	PhaseReadingHeader Phase = iota + 1
	PhaseDerivingKey
	PhaseDecrypting
	PhaseParsing
	PhaseEncrypting
	PhaseWriting
)

func (p Phase) String() string {
	switch p {
	case PhaseReadingHeader:
		return "reading header"
	case PhaseDerivingKey:
		return "deriving key"
	case PhaseDecrypting:
		return "decrypting"
	case PhaseParsing:
		return "parsing"
	case PhaseEncrypting:
		return "encrypting"
	case PhaseWriting:
		return "writing"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Progress receives notifications as a load or save moves between phases.
// Phase is called from the goroutine running Open or Write.
type Progress interface {
	Phase(p Phase)
}

type nopProgress struct{}

func (nopProgress) Phase(Phase) {}
