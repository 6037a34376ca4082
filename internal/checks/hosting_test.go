package checks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitewatch/internal/cpanel"
)

type fakeCF struct {
	token       bool
	reserve     string
	underAttack bool
	err         error
	domains     []string
}

func (f *fakeCF) Configured() bool { return f.token }
func (f *fakeCF) CacheReserve(_ context.Context, domain string) (string, error) {
	f.domains = append(f.domains, domain)
	return f.reserve, f.err
}
func (f *fakeCF) UnderAttack(_ context.Context, domain string) (bool, error) {
	f.domains = append(f.domains, domain)
	return f.underAttack, f.err
}

func TestUnderAttack(t *testing.T) {
	t.Parallel()

	cf := &fakeCF{token: true, underAttack: true}
	a, err := (&UnderAttack{Site: testSite, CF: cf}).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "⚠️ Warning: Cloudflare Under Attack Mode is enabled on example.com\nThis might affect user experience and should be disabled when the threat is over.", a.Text)
	assert.Equal(t, []string{"example.com"}, cf.domains)

	a, err = (&UnderAttack{Site: testSite, CF: &fakeCF{}}).Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, a)

	_, err = (&UnderAttack{Site: testSite, CF: &fakeCF{token: true, err: errors.New("502")}}).Run(context.Background())
	assert.Error(t, err)
}

func TestCacheReserve(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cf   *fakeCF
		want string
	}{
		{"no token", &fakeCF{}, "Warning: Cloudflare API key is not set on example.com."},
		{"off", &fakeCF{token: true, reserve: "off"}, "Warning: Cloudflare cache reserve is not enabled on example.com."},
		{"on", &fakeCF{token: true, reserve: "on"}, ""},
		{"api error", &fakeCF{token: true, err: errors.New("zone not found")}, ""},
	}
	for _, tc := range cases {
		a, _ := (&CacheReserve{Site: testSite, CF: tc.cf}).Run(context.Background())
		if tc.want == "" {
			assert.Nil(t, a, tc.name)
			continue
		}
		require.NotNil(t, a, tc.name)
		assert.Equal(t, tc.want, a.Text, tc.name)
	}
}

type fakeQuota struct {
	usage cpanel.Usage
	err   error
}

func (f fakeQuota) Configured() bool                             { return true }
func (f fakeQuota) Usage(context.Context) (cpanel.Usage, error) { return f.usage, f.err }

func TestCpanelUsage(t *testing.T) {
	t.Parallel()

	high := cpanel.Usage{DiskUsedMB: 4600, DiskLimitMB: 5000, DiskPercent: 92, InodesUsed: 1000, InodeLimit: 200000, InodePercent: 0.5}
	a, err := (&CpanelUsage{Site: testSite, Quota: fakeQuota{usage: high}}).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Contains(t, a.Text, "Disk: 92.0% (4600 MB of 5000 MB)")
	assert.Contains(t, a.Text, "Inodes: 0.5% (1000 of 200000)")

	a, err = (&CpanelUsage{Site: testSite, Quota: fakeQuota{usage: high}, Threshold: 95}).Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, a)

	a, err = (&CpanelUsage{Site: testSite}).Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, a)
}
