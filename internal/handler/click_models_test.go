package handler

import (
	"bytes"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/dataset"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/domain"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/optimizer"
)

func csvBody(t *testing.T, observations []domain.Observation) *bytes.Buffer {
	t.Helper()

	buf := &bytes.Buffer{}
	require.NoError(t, dataset.WriteCSV(buf, observations))
	return buf
}

func TestFitClickModel(t *testing.T) {
	h, deps := newTestHandlerWithDeps(t)

	rng := rand.New(rand.NewSource(5))
	source := func() domain.Plan { return optimizer.RandomPlan(rng) }
	observations, err := dataset.Generate(400, source, dataset.DemoClickModel(), 1, rng)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/click-models?name=demo", csvBody(t, observations))
	req.Header.Set("Content-Type", "text/csv")
	status, resp := serve(t, h, req, tokenCookie(t, h, domain.RoleAdmin))

	require.Equal(t, http.StatusOK, status)
	require.True(t, resp.Success, resp.Message)

	require.Len(t, deps.repo.models, 1)
	saved := deps.repo.models[0]
	assert.Equal(t, "demo", saved.Name)
	assert.Equal(t, 400, saved.Observations)
	assert.Greater(t, saved.RSquared, 0.9)
}

func TestFitClickModelRejectsSingularDesign(t *testing.T) {
	h, deps := newTestHandlerWithDeps(t)

	// 横幅 1 从来没有出现在广告位 0
	rng := rand.New(rand.NewSource(11))
	observations := make([]domain.Observation, 400)
	for i := range observations {
		plan := optimizer.RandomPlan(rng)
		if plan.Slots[0].Banner == 1 {
			plan.Slots[0] = domain.Slot{}
		}
		observations[i] = domain.Observation{Slots: plan.Slots, Clicks: float64(20 + rng.Intn(50))}
	}

	req := httptest.NewRequest(http.MethodPost, "/click-models", csvBody(t, observations))
	req.Header.Set("Content-Type", "text/csv")
	status, resp := serve(t, h, req, tokenCookie(t, h, domain.RoleAdmin))

	require.Equal(t, http.StatusOK, status)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "设计矩阵奇异")
	assert.Empty(t, deps.repo.models)
}

func TestFitClickModelRejectsMalformedData(t *testing.T) {
	h, deps := newTestHandlerWithDeps(t)

	req := httptest.NewRequest(http.MethodPost, "/click-models", bytes.NewBufferString("foo,bar\n1,2\n"))
	req.Header.Set("Content-Type", "text/csv")
	status, resp := serve(t, h, req, tokenCookie(t, h, domain.RoleAdmin))

	require.Equal(t, http.StatusOK, status)
	assert.False(t, resp.Success)
	assert.Empty(t, deps.repo.models)
}
