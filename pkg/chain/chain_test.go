package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyRole(t *testing.T) {
	cases := []struct {
		name string
		n    Neuron
		want Role
	}{
		{"active with permit", Neuron{Active: true, ValidatorPermit: true, Stake: 10}, RoleValidator},
		{"high stake with permit", Neuron{Active: false, ValidatorPermit: true, Stake: 500_001}, RoleValidator},
		{"high stake without permit", Neuron{Active: false, ValidatorPermit: false, Stake: 1_000_000}, RoleMiner},
		{"active without permit", Neuron{Active: true, ValidatorPermit: false}, RoleMiner},
		{"low stake with permit inactive", Neuron{Active: false, ValidatorPermit: true, Stake: 100}, RoleMiner},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyRole(tc.n))
		})
	}
}
