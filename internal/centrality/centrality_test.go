package centrality

import (
	"context"
	"errors"
	"testing"

	"github.com/rewired-gh/glaubernbd/internal/glauber"
	"github.com/rewired-gh/glaubernbd/internal/histogram"
	"github.com/rewired-gh/glaubernbd/internal/nbd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func profiles(t *testing.T, nbins int, min, max float64) Outputs {
	t.Helper()
	np, err := histogram.NewProfile(nbins, min, max)
	require.NoError(t, err)
	nc, err := histogram.NewProfile(nbins, min, max)
	require.NoError(t, err)
	return Outputs{NpartProfile: np, NcollProfile: nc}
}

func totalWeight(p *histogram.Profile) float64 {
	var sum float64
	for i := 0; i <= p.Axis().NBins+1; i++ {
		sum += p.Weight(i)
	}
	return sum
}

func TestMapAveragesSingleGeometry(t *testing.T) {
	sample := glauber.Sample{{Npart: 10, Ncoll: 10, Weight: 3}}
	p := glauber.Params{Mu: 2, K: 1.5, F: 0.8, Norm: 1}
	out := profiles(t, 50, 0.5, 50.5)

	err := NewMapper(0, 0).MapAverages(context.Background(), sample, p, glauber.Round, 1, 50, out)
	require.NoError(t, err)

	for m := 1; m < 50; m++ {
		bin := out.NpartProfile.Axis().FindBin(float64(m))
		want := 3 * nbd.PMF(m, 10*p.Mu, 10*p.K)
		assert.InEpsilon(t, want, out.NpartProfile.Weight(bin), 1e-12, "m=%d", m)
		assert.InDelta(t, 10.0, out.NpartProfile.Mean(bin), 1e-9)
		assert.InDelta(t, 10.0, out.NcollProfile.Mean(bin), 1e-9)
	}
	assert.Zero(t, out.NpartProfile.Weight(out.NpartProfile.Axis().FindBin(50)), "hi is exclusive")
}

func TestMapAveragesSeparatesGeometries(t *testing.T) {
	sample := glauber.Sample{
		{Npart: 2, Ncoll: 2, Weight: 1},
		{Npart: 40, Ncoll: 60, Weight: 1},
	}
	p := glauber.Params{Mu: 1, K: 1, F: 1, Norm: 1}
	out := profiles(t, 100, 0.5, 100.5)

	err := NewMapper(0, 0).MapAverages(context.Background(), sample, p, glauber.Continuous, 1, 100, out)
	require.NoError(t, err)

	peripheral := out.NpartProfile.Axis().FindBin(1)
	central := out.NpartProfile.Axis().FindBin(45)
	assert.InDelta(t, 2.0, out.NpartProfile.Mean(peripheral), 0.01)
	assert.InDelta(t, 40.0, out.NpartProfile.Mean(central), 0.01)
	assert.InDelta(t, 60.0, out.NcollProfile.Mean(central), 0.01)
}

func TestMapAveragesFallbackRange(t *testing.T) {
	sample := glauber.Sample{{Npart: 5, Ncoll: 5, Weight: 1}}
	p := glauber.Params{Mu: 3, K: 2, F: 0.5, Norm: 1}
	out := profiles(t, 40, 0.5, 40.5)

	err := NewMapper(0, 10).MapAverages(context.Background(), sample, p, glauber.Round, -2, -2, out)
	require.NoError(t, err)

	axis := out.NpartProfile.Axis()
	assert.Greater(t, out.NpartProfile.Weight(axis.FindBin(5)), 0.0)
	assert.Zero(t, out.NpartProfile.Weight(axis.FindBin(10)))
	assert.Zero(t, out.NpartProfile.Weight(axis.FindBin(20)))
}

func TestMapAveragesPercentileRemapping(t *testing.T) {
	sample := glauber.Sample{
		{Npart: 4, Ncoll: 4, Weight: 2},
		{Npart: 20, Ncoll: 30, Weight: 1},
	}
	p := glauber.Params{Mu: 1.5, K: 1, F: 0.5, Norm: 1}

	plain := profiles(t, 100, 0.5, 100.5)
	require.NoError(t, NewMapper(0, 0).MapAverages(context.Background(), sample, p, glauber.Round, 1, 100, plain))

	multiplicity, err := histogram.NewH1D(100, 0.5, 100.5)
	require.NoError(t, err)
	for i := 1; i <= 100; i++ {
		multiplicity.SetBinContent(i, plain.NpartProfile.Weight(i))
	}
	pmap, err := PercentileMap(multiplicity)
	require.NoError(t, err)

	remapped := profiles(t, 100, 0, 100)
	remapped.PercentileMap = pmap
	require.NoError(t, NewMapper(0, 0).MapAverages(context.Background(), sample, p, glauber.Round, 1, 100, remapped))

	assert.InEpsilon(t, totalWeight(plain.NpartProfile), totalWeight(remapped.NpartProfile), 1e-12,
		"remapping moves fills between bins without changing their weight")
	// Multiplicity 1 is the most peripheral bin: 100% of events lie at or above it.
	assert.InDelta(t, 100.0, pmap.BinContent(1), 1e-9)
	assert.Greater(t, remapped.NpartProfile.Weight(remapped.NpartProfile.Axis().NBins+1), 0.0)
}

func TestMapAveragesFillsOptionalHistograms(t *testing.T) {
	sample := glauber.Sample{{Npart: 6, Ncoll: 8, Weight: 1}}
	p := glauber.Params{Mu: 2, K: 1, F: 0.5, Norm: 1}
	out := profiles(t, 60, 0.5, 60.5)
	var err error
	out.Npart2D, err = histogram.NewH2D(60, 0.5, 60.5, 50, -0.5, 49.5)
	require.NoError(t, err)
	out.Ncoll2D, err = histogram.NewH2D(60, 0.5, 60.5, 50, -0.5, 49.5)
	require.NoError(t, err)

	require.NoError(t, NewMapper(0, 0).MapAverages(context.Background(), sample, p, glauber.Round, 1, 60, out))

	total := totalWeight(out.NpartProfile)
	assert.InEpsilon(t, total, out.Npart2D.Integral(), 1e-12)
	assert.InEpsilon(t, total, out.Ncoll2D.Integral(), 1e-12)
	assert.Greater(t, out.Npart2D.At(7, 6), 0.0)
	assert.Zero(t, out.Npart2D.At(7, 8))
	assert.Greater(t, out.Ncoll2D.At(7, 8), 0.0)
}

func TestMapAveragesErrors(t *testing.T) {
	sample := glauber.Sample{{Npart: 6, Ncoll: 8, Weight: 1}}
	p := glauber.DefaultParams()
	mapper := NewMapper(0, 10)

	err := mapper.MapAverages(context.Background(), sample, p, glauber.Round, 1, 10, Outputs{})
	assert.True(t, errors.Is(err, ErrNoProfiles))

	out := profiles(t, 10, 0.5, 10.5)
	err = mapper.MapAverages(context.Background(), nil, p, glauber.Round, 1, 10, out)
	assert.True(t, errors.Is(err, glauber.ErrNoSample))

	err = mapper.MapAverages(context.Background(), sample, p, glauber.Mode(5), 1, 10, out)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = mapper.MapAverages(ctx, sample, p, glauber.Round, 1, 10, out)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestPercentileMap(t *testing.T) {
	h, err := histogram.NewH1D(4, 0.5, 4.5)
	require.NoError(t, err)
	for i := 1; i <= 4; i++ {
		h.SetBinContent(i, 1)
	}
	h.Fill(10, 5) // overflow is ignored

	pmap, err := PercentileMap(h)
	require.NoError(t, err)
	assert.Equal(t, h.Axis(), pmap.Axis())
	assert.InDelta(t, 100.0, pmap.BinContent(1), 1e-12)
	assert.InDelta(t, 75.0, pmap.BinContent(2), 1e-12)
	assert.InDelta(t, 50.0, pmap.BinContent(3), 1e-12)
	assert.InDelta(t, 25.0, pmap.BinContent(4), 1e-12)
	assert.Zero(t, pmap.BinContent(5))
	assert.InDelta(t, 75.0, pmap.Lookup(2.2), 1e-12)

	_, err = PercentileMap(histogram.MustH1D(4, 0.5, 4.5))
	assert.Error(t, err)
	_, err = PercentileMap(nil)
	assert.Error(t, err)
}

func TestTable(t *testing.T) {
	out := profiles(t, 5, 0.5, 5.5)
	out.NpartProfile.Fill(2, 10, 1)
	out.NpartProfile.Fill(2, 20, 1)
	out.NcollProfile.Fill(2, 30, 2)
	out.NpartProfile.Fill(4, 8, 0.5)
	out.NcollProfile.Fill(4, 9, 0.5)

	rows, err := Table("run-1", out.NpartProfile, out.NcollProfile)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "run-1", rows[0].RunID)
	assert.Equal(t, 2, rows[0].Bin)
	assert.Equal(t, 2.0, rows[0].Multiplicity)
	assert.InDelta(t, 15.0, rows[0].AvgNpart, 1e-12)
	assert.InDelta(t, 5.0, rows[0].RMSNpart, 1e-9)
	assert.InDelta(t, 30.0, rows[0].AvgNcoll, 1e-12)
	assert.Equal(t, 2.0, rows[0].Weight)
	assert.Equal(t, 4, rows[1].Bin)
	for _, r := range rows {
		assert.NoError(t, r.Validate())
	}

	other, err := histogram.NewProfile(6, 0.5, 6.5)
	require.NoError(t, err)
	_, err = Table("run-1", out.NpartProfile, other)
	assert.Error(t, err)
	_, err = Table("run-1", nil, other)
	assert.True(t, errors.Is(err, ErrNoProfiles))
}
