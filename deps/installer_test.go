package deps

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/skillforge/audit"
	"github.com/BaSui01/skillforge/types"
)

// fakeSandbox counts builds and can be told to fail.
type fakeSandbox struct {
	builds    atomic.Int64
	discards  atomic.Int64
	failWith  error
	buildSlow time.Duration
}

func (s *fakeSandbox) Build(ctx context.Context, specs []DependencySpec, ecosystem Ecosystem) (*InstallationArtifact, error) {
	if s.buildSlow > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.buildSlow):
		}
	}
	n := s.builds.Add(1)
	if s.failWith != nil {
		// A failed build still leaves a partial environment behind.
		return &InstallationArtifact{Location: fmt.Sprintf("/tmp/partial-%d", n)}, s.failWith
	}
	packages := make([]string, 0, len(specs))
	for _, spec := range specs {
		packages = append(packages, spec.String())
	}
	return &InstallationArtifact{
		Location: fmt.Sprintf("/tmp/env-%d", n),
		Packages: packages,
	}, nil
}

func (s *fakeSandbox) Discard(context.Context, *InstallationArtifact) error {
	s.discards.Add(1)
	return nil
}

// recordingSink captures audit events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Record(_ context.Context, event audit.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) outcomes() []audit.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	outcomes := make([]audit.Outcome, 0, len(s.events))
	for _, e := range s.events {
		outcomes = append(outcomes, e.Outcome)
	}
	return outcomes
}

func fastInstallerConfig() InstallerConfig {
	cfg := DefaultInstallerConfig()
	cfg.Lock = fastLockConfig()
	cfg.SandboxRatePerSec = 1000
	cfg.SandboxBurst = 1000
	return cfg
}

func newTestInstaller(t *testing.T, sandbox Sandbox, sink audit.Sink) *Installer {
	t.Helper()
	logger := zaptest.NewLogger(t)
	return NewInstaller(
		NewResolver(logger),
		NewDefaultPolicyChecker(DefaultPolicyConfig(), logger),
		NewMemoryLockManager(fastLockConfig(), logger),
		NewMemoryArtifactCache(),
		sandbox,
		sink,
		fastInstallerConfig(),
		nil,
		logger,
	)
}

func TestInstallSuccess(t *testing.T) {
	sandbox := &fakeSandbox{}
	sink := &recordingSink{}
	installer := newTestInstaller(t, sandbox, sink)

	result, err := installer.Install(context.Background(), "data-analyzer", []DependencySpec{
		spec("numpy", "==1.24.0"),
		spec("pandas", ">=2.0.0"),
	}, EcosystemPython)
	require.NoError(t, err)

	assert.Equal(t, "data-analyzer", result.SkillID)
	assert.False(t, result.CacheHit)
	assert.NotEmpty(t, result.Hash)
	require.NotNil(t, result.Artifact)
	assert.Equal(t, result.Hash, result.Artifact.Hash)
	assert.EqualValues(t, 1, sandbox.builds.Load())

	assert.Equal(t, []audit.Outcome{audit.OutcomeAllowed, audit.OutcomeSuccess}, sink.outcomes())
}

func TestInstallCacheHitSkipsBuild(t *testing.T) {
	sandbox := &fakeSandbox{}
	sink := &recordingSink{}
	installer := newTestInstaller(t, sandbox, sink)
	specs := []DependencySpec{spec("numpy", "==1.24.0")}

	first, err := installer.Install(context.Background(), "data-analyzer", specs, EcosystemPython)
	require.NoError(t, err)
	require.False(t, first.CacheHit)

	second, err := installer.Install(context.Background(), "data-analyzer", specs, EcosystemPython)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, first.Artifact.Location, second.Artifact.Location)
	assert.EqualValues(t, 1, sandbox.builds.Load(), "cache hit must not rebuild")

	assert.Contains(t, sink.outcomes(), audit.OutcomeCacheHit)
}

func TestInstallConflictFailsFast(t *testing.T) {
	sandbox := &fakeSandbox{}
	installer := newTestInstaller(t, sandbox, &recordingSink{})

	_, err := installer.Install(context.Background(), "data-analyzer", []DependencySpec{
		spec("numpy", "==1.21.0"),
		spec("numpy", "==1.24.0"),
	}, EcosystemPython)
	require.Error(t, err)
	assert.Equal(t, types.ErrConflict, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "numpy")
	assert.EqualValues(t, 0, sandbox.builds.Load())
}

func TestInstallBlockedByPolicy(t *testing.T) {
	sandbox := &fakeSandbox{}
	sink := &recordingSink{}
	installer := newTestInstaller(t, sandbox, sink)

	_, err := installer.Install(context.Background(), "shady-skill", []DependencySpec{
		spec("requessts", ""),
	}, EcosystemPython)
	require.Error(t, err)
	assert.Equal(t, types.ErrSecurityPolicyViolation, types.GetErrorCode(err))
	assert.EqualValues(t, 0, sandbox.builds.Load(), "blocked install must never reach the sandbox")

	assert.Equal(t, []audit.Outcome{audit.OutcomeBlocked}, sink.outcomes())
}

func TestInstallBuildFailureDiscardsPartialArtifact(t *testing.T) {
	sandbox := &fakeSandbox{failWith: errors.New("pip exited 1")}
	sink := &recordingSink{}
	installer := newTestInstaller(t, sandbox, sink)

	_, err := installer.Install(context.Background(), "data-analyzer", []DependencySpec{
		spec("numpy", "==1.24.0"),
	}, EcosystemPython)
	require.Error(t, err)
	assert.Equal(t, types.ErrInstallationFailed, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
	assert.EqualValues(t, 1, sandbox.discards.Load(), "partial artifact must be discarded")

	// A later identical request is not poisoned by the failure.
	sandbox.failWith = nil
	result, err := installer.Install(context.Background(), "data-analyzer", []DependencySpec{
		spec("numpy", "==1.24.0"),
	}, EcosystemPython)
	require.NoError(t, err)
	assert.False(t, result.CacheHit)

	assert.Contains(t, sink.outcomes(), audit.OutcomeFailed)
}

func TestInstallConcurrentIdenticalRequestsBuildOnce(t *testing.T) {
	sandbox := &fakeSandbox{buildSlow: 20 * time.Millisecond}
	logger := zaptest.NewLogger(t)
	cfg := fastInstallerConfig()
	// Waiters must outlast the serialized builds ahead of them.
	cfg.Lock.WaitTimeout = 5 * time.Second
	installer := NewInstaller(
		NewResolver(logger),
		NewDefaultPolicyChecker(DefaultPolicyConfig(), logger),
		NewMemoryLockManager(cfg.Lock, logger),
		NewMemoryArtifactCache(),
		sandbox,
		nil,
		cfg,
		nil,
		logger,
	)
	specs := []DependencySpec{spec("numpy", "==1.24.0")}

	const workers = 8
	var wg sync.WaitGroup
	var cacheHits atomic.Int64
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := installer.Install(context.Background(), "data-analyzer", specs, EcosystemPython)
			assert.NoError(t, err)
			if result != nil && result.CacheHit {
				cacheHits.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, sandbox.builds.Load(), "identical concurrent requests must build exactly once")
	assert.EqualValues(t, workers-1, cacheHits.Load())
}

func TestCleanup(t *testing.T) {
	sandbox := &fakeSandbox{}
	installer := newTestInstaller(t, sandbox, &recordingSink{})
	specs := []DependencySpec{spec("numpy", "==1.24.0")}

	result, err := installer.Install(context.Background(), "data-analyzer", specs, EcosystemPython)
	require.NoError(t, err)

	require.NoError(t, installer.Cleanup(context.Background(), result.Hash))
	assert.EqualValues(t, 1, sandbox.discards.Load())

	// Cleanup of an unknown hash is a no-op.
	require.NoError(t, installer.Cleanup(context.Background(), "unknown"))

	// The next install rebuilds.
	again, err := installer.Install(context.Background(), "data-analyzer", specs, EcosystemPython)
	require.NoError(t, err)
	assert.False(t, again.CacheHit)
	assert.EqualValues(t, 2, sandbox.builds.Load())
}

func TestBatchInstallIndependentFailures(t *testing.T) {
	sandbox := &fakeSandbox{}
	installer := newTestInstaller(t, sandbox, &recordingSink{})

	items := []InstallRequest{
		{SkillID: "analyzer", Specs: []DependencySpec{spec("numpy", "==1.24.0")}, Ecosystem: EcosystemPython},
		{SkillID: "conflicted", Specs: []DependencySpec{spec("numpy", "==1.21.0"), spec("numpy", "==1.24.0")}, Ecosystem: EcosystemPython},
		{SkillID: "blocked", Specs: []DependencySpec{spec("ctx", "")}, Ecosystem: EcosystemPython},
		{SkillID: "reporter", Specs: []DependencySpec{spec("pandas", ">=2.0.0")}, Ecosystem: EcosystemPython},
	}

	outcomes := installer.BatchInstall(context.Background(), items)
	require.Len(t, outcomes, 4)

	assert.NoError(t, outcomes[0].Err)
	assert.Equal(t, types.ErrConflict, types.GetErrorCode(outcomes[1].Err))
	assert.Equal(t, types.ErrSecurityPolicyViolation, types.GetErrorCode(outcomes[2].Err))
	assert.NoError(t, outcomes[3].Err)

	// Failures elsewhere never roll back a completed item.
	require.NotNil(t, outcomes[0].Result)
	require.NotNil(t, outcomes[3].Result)
	assert.EqualValues(t, 0, sandbox.discards.Load())
}
