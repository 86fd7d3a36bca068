// Package skillforge ties the skill loader, the dependency installer, and the
// workflow composition engine together into one embeddable execution stack.
package skillforge

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/skillforge/compose"
	"github.com/BaSui01/skillforge/deps"
	"github.com/BaSui01/skillforge/skill"
)

// Version is the library version.
const Version = "0.3.0"

// SkillProvisioner prepares a skill for execution: it looks the unit up in
// the loader's registry and installs the unit's declared dependency sets
// through the installer, one install per ecosystem. Cached artifacts make
// repeat provisioning cheap.
type SkillProvisioner struct {
	loader    *skill.Loader
	installer *deps.Installer
	logger    *zap.Logger
}

var _ compose.Provisioner = (*SkillProvisioner)(nil)

// NewSkillProvisioner wires a provisioner over a loader and an installer.
func NewSkillProvisioner(loader *skill.Loader, installer *deps.Installer, logger *zap.Logger) *SkillProvisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SkillProvisioner{
		loader:    loader,
		installer: installer,
		logger:    logger.With(zap.String("component", "provisioner")),
	}
}

// Provision implements compose.Provisioner.
func (p *SkillProvisioner) Provision(ctx context.Context, skillID string) error {
	unit, err := p.loader.Get(skillID)
	if err != nil {
		return err
	}
	if len(unit.Manifest.Dependencies) == 0 {
		return nil
	}
	if p.installer == nil {
		return fmt.Errorf("skill %s declares dependencies but no installer is configured", skillID)
	}

	for ecosystem, specs := range groupByEcosystem(unit.Manifest.Dependencies) {
		result, err := p.installer.Install(ctx, skillID, specs, ecosystem)
		if err != nil {
			return fmt.Errorf("install %s dependencies for skill %s: %w", ecosystem, skillID, err)
		}
		p.logger.Debug("skill dependencies ready",
			zap.String("skill_id", skillID),
			zap.String("ecosystem", string(ecosystem)),
			zap.String("hash", result.Hash),
			zap.Bool("cache_hit", result.CacheHit))
	}
	return nil
}

// groupByEcosystem converts manifest dependency references into installer
// specs, one set per ecosystem. An empty ecosystem defaults to python.
func groupByEcosystem(refs []skill.DependencyRef) map[deps.Ecosystem][]deps.DependencySpec {
	grouped := make(map[deps.Ecosystem][]deps.DependencySpec)
	for _, ref := range refs {
		eco := deps.Ecosystem(ref.Ecosystem)
		if eco == "" {
			eco = deps.EcosystemPython
		}
		grouped[eco] = append(grouped[eco], deps.DependencySpec{
			Package:    ref.Package,
			Constraint: ref.Constraint,
			Ecosystem:  eco,
		})
	}
	return grouped
}
