package deps

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BaSui01/skillforge/audit"
	"github.com/BaSui01/skillforge/internal/metrics"
	"github.com/BaSui01/skillforge/types"
)

// Sandbox is the external package-manager collaborator. It performs the
// actual isolated install of a spec set and can discard a partial artifact.
type Sandbox interface {
	Build(ctx context.Context, specs []DependencySpec, ecosystem Ecosystem) (*InstallationArtifact, error)
	Discard(ctx context.Context, artifact *InstallationArtifact) error
}

// InstallerConfig configures the auto-installer.
type InstallerConfig struct {
	Lock LockConfig `yaml:"lock" json:"lock"`

	// MaxParallel bounds concurrent items in BatchInstall.
	MaxParallel int `yaml:"max_parallel" json:"max_parallel"`

	// SandboxRatePerSec throttles sandbox build invocations.
	SandboxRatePerSec float64 `yaml:"sandbox_rate_per_sec" json:"sandbox_rate_per_sec"`

	// SandboxBurst is the rate limiter burst size.
	SandboxBurst int `yaml:"sandbox_burst" json:"sandbox_burst"`
}

// DefaultInstallerConfig returns the default installer configuration.
func DefaultInstallerConfig() InstallerConfig {
	return InstallerConfig{
		Lock:              DefaultLockConfig(),
		MaxParallel:       4,
		SandboxRatePerSec: 2,
		SandboxBurst:      4,
	}
}

// InstallResult is the outcome of a successful install or cache hit.
type InstallResult struct {
	SkillID   string                `json:"skill_id"`
	Ecosystem Ecosystem             `json:"ecosystem"`
	Hash      string                `json:"hash"`
	Artifact  *InstallationArtifact `json:"artifact"`
	CacheHit  bool                  `json:"cache_hit"`
	Duration  time.Duration         `json:"duration"`
}

// Installer resolves, policy-checks, and installs dependency sets inside the
// sandbox collaborator, with hash-keyed caching and per-key locking so that
// concurrent identical requests build exactly once.
type Installer struct {
	resolver  *Resolver
	policy    PolicyChecker
	locks     LockManager
	cache     ArtifactCache
	sandbox   Sandbox
	audit     audit.Sink
	limiter   *rate.Limiter
	collector *metrics.Collector
	config    InstallerConfig
	logger    *zap.Logger
}

// NewInstaller wires the installer from its collaborators. A nil audit sink
// defaults to a no-op; a nil cache defaults to the in-memory one.
func NewInstaller(
	resolver *Resolver,
	policy PolicyChecker,
	locks LockManager,
	cache ArtifactCache,
	sandbox Sandbox,
	auditSink audit.Sink,
	config InstallerConfig,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Installer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if auditSink == nil {
		auditSink = audit.NopSink{}
	}
	if cache == nil {
		cache = NewMemoryArtifactCache()
	}
	if config.MaxParallel <= 0 {
		config.MaxParallel = DefaultInstallerConfig().MaxParallel
	}
	if config.SandboxRatePerSec <= 0 {
		config.SandboxRatePerSec = DefaultInstallerConfig().SandboxRatePerSec
	}
	if config.SandboxBurst <= 0 {
		config.SandboxBurst = DefaultInstallerConfig().SandboxBurst
	}
	return &Installer{
		resolver:  resolver,
		policy:    policy,
		locks:     locks,
		cache:     cache,
		sandbox:   sandbox,
		audit:     auditSink,
		limiter:   rate.NewLimiter(rate.Limit(config.SandboxRatePerSec), config.SandboxBurst),
		collector: collector,
		config:    config,
		logger:    logger.With(zap.String("component", "installer")),
	}
}

// Install runs the full single-item flow: resolve, lock, cache check, policy
// check, sandboxed build, artifact registration. A failed build discards the
// partial artifact before the error is returned.
func (i *Installer) Install(ctx context.Context, skillID string, specs []DependencySpec, ecosystem Ecosystem) (*InstallResult, error) {
	start := time.Now()

	res := i.resolver.Resolve(ecosystem, specs)
	if res.HasConflicts() {
		details := make([]string, 0, len(res.Conflicts))
		for _, c := range res.Conflicts {
			details = append(details, c.String())
		}
		i.collector.RecordInstall(string(ecosystem), "conflict", time.Since(start))
		return nil, types.Errorf(types.ErrConflict,
			"incompatible version constraints: %s", strings.Join(details, "; "))
	}

	hash := DependencySetHash(res.Resolved)
	key := LockKey(skillID, ecosystem, hash)

	lockStart := time.Now()
	lock, err := i.locks.Acquire(ctx, key)
	i.collector.RecordLockWait(time.Since(lockStart))
	if err != nil {
		i.collector.RecordInstall(string(ecosystem), "lock_timeout", time.Since(start))
		return nil, err
	}
	defer func() {
		if relErr := i.locks.Release(context.WithoutCancel(ctx), lock); relErr != nil {
			i.logger.Warn("failed to release installation lock",
				zap.String("key", key),
				zap.Error(relErr))
		}
	}()

	// Cache hit: reuse the artifact, no rebuild, no policy re-check needed
	// for an environment that already passed it.
	if artifact, ok, cacheErr := i.cache.Get(ctx, hash); cacheErr != nil {
		i.logger.Warn("artifact cache lookup failed", zap.Error(cacheErr))
	} else if ok {
		i.collector.RecordInstallCache(true)
		i.collector.RecordInstall(string(ecosystem), "cache_hit", time.Since(start))
		i.audit.Record(ctx, audit.Event{
			Time:      time.Now(),
			Action:    "install",
			SkillID:   skillID,
			Ecosystem: string(ecosystem),
			Outcome:   audit.OutcomeCacheHit,
			Packages:  packageNames(res.Resolved),
		})
		i.logger.Debug("artifact cache hit",
			zap.String("skill_id", skillID),
			zap.String("hash", hash))
		return &InstallResult{
			SkillID:   skillID,
			Ecosystem: ecosystem,
			Hash:      hash,
			Artifact:  artifact,
			CacheHit:  true,
			Duration:  time.Since(start),
		}, nil
	}
	i.collector.RecordInstallCache(false)

	decision, err := i.policy.Check(ctx, res.Resolved)
	if err != nil {
		i.collector.RecordInstall(string(ecosystem), "policy_error", time.Since(start))
		return nil, fmt.Errorf("policy check: %w", err)
	}
	if !decision.Allowed {
		details := make([]string, 0, len(decision.Violations))
		for _, v := range decision.Violations {
			details = append(details, fmt.Sprintf("%s: %s (%s)", v.Package, v.Rule, v.Detail))
		}
		i.audit.Record(ctx, audit.Event{
			Time:      time.Now(),
			Action:    "install",
			SkillID:   skillID,
			Ecosystem: string(ecosystem),
			Outcome:   audit.OutcomeBlocked,
			Detail:    strings.Join(details, "; "),
			Packages:  packageNames(res.Resolved),
		})
		i.collector.RecordInstall(string(ecosystem), "blocked", time.Since(start))
		return nil, types.Errorf(types.ErrSecurityPolicyViolation,
			"install blocked by supply-chain policy: %s", strings.Join(details, "; "))
	}
	i.audit.Record(ctx, audit.Event{
		Time:      time.Now(),
		Action:    "install",
		SkillID:   skillID,
		Ecosystem: string(ecosystem),
		Outcome:   audit.OutcomeAllowed,
		Packages:  packageNames(res.Resolved),
	})

	if err := i.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	i.logger.Info("building installation artifact",
		zap.String("skill_id", skillID),
		zap.String("ecosystem", string(ecosystem)),
		zap.String("hash", hash),
		zap.Int("packages", len(res.Resolved)))

	artifact, buildErr := i.sandbox.Build(ctx, res.Resolved, ecosystem)
	if buildErr != nil {
		if artifact != nil {
			if discardErr := i.sandbox.Discard(context.WithoutCancel(ctx), artifact); discardErr != nil {
				i.logger.Warn("failed to discard partial artifact",
					zap.String("hash", hash),
					zap.Error(discardErr))
			}
		}
		i.audit.Record(ctx, audit.Event{
			Time:      time.Now(),
			Action:    "install",
			SkillID:   skillID,
			Ecosystem: string(ecosystem),
			Outcome:   audit.OutcomeFailed,
			Detail:    buildErr.Error(),
			Packages:  packageNames(res.Resolved),
		})
		i.collector.RecordInstall(string(ecosystem), "failed", time.Since(start))
		return nil, types.Errorf(types.ErrInstallationFailed,
			"sandbox build failed for skill %s", skillID).WithCause(buildErr).WithRetryable(true)
	}

	artifact.Hash = hash
	artifact.Ecosystem = ecosystem
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now()
	}
	if err := i.cache.Put(ctx, artifact); err != nil {
		i.logger.Warn("failed to register artifact in cache",
			zap.String("hash", hash),
			zap.Error(err))
	}

	i.audit.Record(ctx, audit.Event{
		Time:      time.Now(),
		Action:    "install",
		SkillID:   skillID,
		Ecosystem: string(ecosystem),
		Outcome:   audit.OutcomeSuccess,
		Packages:  packageNames(res.Resolved),
	})
	i.collector.RecordInstall(string(ecosystem), "success", time.Since(start))

	return &InstallResult{
		SkillID:   skillID,
		Ecosystem: ecosystem,
		Hash:      hash,
		Artifact:  artifact,
		Duration:  time.Since(start),
	}, nil
}

// Cleanup removes a cached artifact and discards its sandbox environment.
func (i *Installer) Cleanup(ctx context.Context, hash string) error {
	artifact, ok, err := i.cache.Get(ctx, hash)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := i.sandbox.Discard(ctx, artifact); err != nil {
		return fmt.Errorf("discard artifact %s: %w", hash, err)
	}
	return i.cache.Delete(ctx, hash)
}

// InstallRequest is one item of a batch install.
type InstallRequest struct {
	SkillID   string
	Specs     []DependencySpec
	Ecosystem Ecosystem
}

// InstallOutcome pairs a batch item with its result or error.
type InstallOutcome struct {
	Request InstallRequest
	Result  *InstallResult
	Err     error
}

// BatchInstall installs items independently with bounded parallelism. One
// item's failure never blocks or rolls back the others; items sharing a lock
// key are serialized by the lock manager.
func (i *Installer) BatchInstall(ctx context.Context, items []InstallRequest) []InstallOutcome {
	outcomes := make([]InstallOutcome, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.config.MaxParallel)

	for idx, item := range items {
		idx, item := idx, item
		g.Go(func() error {
			result, err := i.Install(gctx, item.SkillID, item.Specs, item.Ecosystem)
			outcomes[idx] = InstallOutcome{Request: item, Result: result, Err: err}
			return nil
		})
	}
	// Workers never return errors; Wait only synchronizes.
	_ = g.Wait()

	return outcomes
}

func packageNames(specs []DependencySpec) []string {
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.String())
	}
	return names
}
