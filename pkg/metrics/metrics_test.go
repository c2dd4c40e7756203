// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkeys.
//
// go-passkeys is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsEnabled(t *testing.T) {
	assert.True(t, IsEnabled())

	Disable()
	assert.False(t, IsEnabled())

	Enable()
	assert.True(t, IsEnabled())
}

func TestRecordCeremony(t *testing.T) {
	Enable()
	CeremoniesTotal.Reset()
	CeremonyDuration.Reset()

	RecordCeremony(CeremonyRegistration, StepBegin, StatusSuccess, 0.01)
	RecordCeremony(CeremonyRegistration, StepBegin, StatusSuccess, 0.02)
	RecordCeremony(CeremonyAuthentication, StepComplete, StatusError, 0.05)

	assert.Equal(t, 2, testutil.CollectAndCount(CeremoniesTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(
		CeremoniesTotal.WithLabelValues(CeremonyRegistration, StepBegin, StatusSuccess)))
	assert.Equal(t, 2, testutil.CollectAndCount(CeremonyDuration))
}

func TestRecordCeremonyWhenDisabled(t *testing.T) {
	Disable()
	defer Enable()
	CeremoniesTotal.Reset()

	RecordCeremony(CeremonyRegistration, StepBegin, StatusSuccess, 0.5)

	assert.Equal(t, 0, testutil.CollectAndCount(CeremoniesTotal))
}

func TestRecordError(t *testing.T) {
	Enable()
	ErrorsTotal.Reset()

	RecordError(CeremonyAuthentication, "credential_not_found")
	RecordError(CeremonyAuthentication, "credential_not_found")

	assert.Equal(t, 2.0, testutil.ToFloat64(
		ErrorsTotal.WithLabelValues(CeremonyAuthentication, "credential_not_found")))
}

func TestRecordTokenAndUpload(t *testing.T) {
	Enable()
	TokensIssuedTotal.Reset()
	UploadsTotal.Reset()

	RecordTokenIssued("firebase", StatusSuccess)
	RecordUpload(StatusError)

	assert.Equal(t, 1.0, testutil.ToFloat64(TokensIssuedTotal.WithLabelValues("firebase", StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(UploadsTotal.WithLabelValues(StatusError)))
}

func TestRecordChallengesSwept(t *testing.T) {
	Enable()
	before := testutil.ToFloat64(ChallengesSweptTotal)

	RecordChallengesSwept(3)
	RecordChallengesSwept(0)
	RecordChallengesSwept(-1)

	assert.Equal(t, before+3, testutil.ToFloat64(ChallengesSweptTotal))
}

func TestSetStorageHealth(t *testing.T) {
	Enable()
	StorageHealthy.Reset()

	SetStorageHealth("sqlite", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(StorageHealthy.WithLabelValues("sqlite")))

	SetStorageHealth("sqlite", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(StorageHealthy.WithLabelValues("sqlite")))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, StatusSuccess, StatusFor(nil))
	assert.Equal(t, StatusError, StatusFor(errors.New("boom")))
}

func TestResourceCollector(t *testing.T) {
	Enable()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	NewResourceCollector(10 * time.Millisecond).Run(ctx)

	assert.Greater(t, testutil.ToFloat64(Goroutines), 0.0)
	assert.Greater(t, testutil.ToFloat64(MemoryAllocBytes), 0.0)
}
