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

package payout

import (
	"fmt"
	"strings"

	"github.com/blinklabs-io/faucet/types"
	"github.com/blinklabs-io/gouroboros/ledger"
)

const (
	NetworkMainnet = "mainnet"
	NetworkPreprod = "preprod"
	NetworkPreview = "preview"

	mainnetAddressPrefix = "addr1"
	testnetAddressPrefix = "addr_test1"
)

// AddressValidator accepts Shelley payment addresses for one network
type AddressValidator struct {
	network string
	prefix  string
}

func NewAddressValidator(network string) (*AddressValidator, error) {
	v := &AddressValidator{network: network}
	switch network {
	case NetworkMainnet:
		v.prefix = mainnetAddressPrefix
	case NetworkPreprod, NetworkPreview:
		v.prefix = testnetAddressPrefix
	default:
		return nil, fmt.Errorf("unknown network: %s", network)
	}
	return v, nil
}

func (v *AddressValidator) Network() string {
	return v.network
}

// Validate parses address and returns its canonical encoding
func (v *AddressValidator) Validate(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !strings.HasPrefix(address, v.prefix) {
		return "", fmt.Errorf(
			"%w: expected a %s address",
			types.ErrInvalidAddress,
			v.network,
		)
	}
	addr, err := ledger.NewAddress(address)
	if err != nil {
		return "", fmt.Errorf("%w: %w", types.ErrInvalidAddress, err)
	}
	return addr.String(), nil
}
