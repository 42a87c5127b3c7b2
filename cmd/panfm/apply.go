package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/panfm/panfm/pkg/registry"
	"github.com/panfm/panfm/pkg/store"
	"github.com/panfm/panfm/pkg/types"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a configuration manifest",
	Long: `Bulk-import firewalls, notification channels and alert configs from
a YAML manifest. Firewalls and channels are matched by name and updated in
place; alert configs that already exist are skipped.

Examples:
  # Register a fleet and its alert rules in one pass
  panfm apply -f fleet.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML manifest to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// Manifest is the YAML document consumed by apply.
type Manifest struct {
	Firewalls    []manifestFirewall    `yaml:"firewalls"`
	Channels     []manifestChannel     `yaml:"channels"`
	AlertConfigs []manifestAlertConfig `yaml:"alert_configs"`
}

type manifestFirewall struct {
	Name                string   `yaml:"name"`
	Host                string   `yaml:"host"`
	APIKey              string   `yaml:"api_key"`
	Enabled             *bool    `yaml:"enabled"`
	VerifyTLS           bool     `yaml:"verify_tls"`
	Group               string   `yaml:"group"`
	MonitoredInterfaces []string `yaml:"monitored_interfaces"`
}

type manifestChannel struct {
	Name    string         `yaml:"name"`
	Kind    string         `yaml:"kind"`
	Enabled *bool          `yaml:"enabled"`
	Config  map[string]any `yaml:"config"`
}

// manifestAlertConfig references its firewall by name; an empty device
// applies the rule to the whole fleet.
type manifestAlertConfig struct {
	Device     string   `yaml:"device"`
	MetricType string   `yaml:"metric_type"`
	Operator   string   `yaml:"operator"`
	Threshold  float64  `yaml:"threshold"`
	Severity   string   `yaml:"severity"`
	Channels   []string `yaml:"channels"`
	Enabled    *bool    `yaml:"enabled"`
}

func runApply(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	filename, _ := cmd.Flags().GetString("file")
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to parse YAML: %v", err)
	}
	if len(m.Firewalls) == 0 && len(m.Channels) == 0 && len(m.AlertConfigs) == 0 {
		return fmt.Errorf("manifest %s contains no resources", filename)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), startupTimeout)
	defer cancel()

	reg, err := openRegistry(cfg)
	if err != nil {
		return err
	}

	// Channels and alert configs live in the database; a firewall-only
	// manifest can be applied before TimescaleDB is up.
	var st *store.Store
	if len(m.Channels) > 0 || len(m.AlertConfigs) > 0 {
		st, err = store.Open(ctx, cfg.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %v", err)
		}
		defer st.Close()
	}

	for _, mf := range m.Firewalls {
		if err := applyFirewall(reg, mf); err != nil {
			return err
		}
	}
	for _, mc := range m.Channels {
		if err := applyChannel(ctx, st, mc); err != nil {
			return err
		}
	}
	for _, ma := range m.AlertConfigs {
		if err := applyAlertConfig(ctx, st, reg, ma); err != nil {
			return err
		}
	}
	return nil
}

func applyFirewall(reg *registry.Registry, mf manifestFirewall) error {
	if mf.Name == "" || mf.Host == "" || mf.APIKey == "" {
		return fmt.Errorf("firewall %q: name, host and api_key are required", mf.Name)
	}

	existing, err := findFirewall(reg, mf.Name)
	if err != nil {
		return err
	}
	enabled := mf.Enabled == nil || *mf.Enabled

	if existing != nil {
		existing.Host = mf.Host
		existing.APIKey = mf.APIKey
		existing.Enabled = enabled
		existing.VerifyTLS = mf.VerifyTLS
		existing.Group = mf.Group
		existing.MonitoredInterfaces = mf.MonitoredInterfaces
		if err := reg.Update(existing); err != nil {
			return fmt.Errorf("failed to update firewall %s: %v", mf.Name, err)
		}
		fmt.Printf("✓ Firewall updated: %s (ID: %s)\n", mf.Name, existing.ID)
		return nil
	}

	device := &types.Device{
		Name:                mf.Name,
		Host:                mf.Host,
		APIKey:              mf.APIKey,
		Enabled:             enabled,
		VerifyTLS:           mf.VerifyTLS,
		Group:               mf.Group,
		MonitoredInterfaces: mf.MonitoredInterfaces,
	}
	if err := reg.Create(device); err != nil {
		return fmt.Errorf("failed to register firewall %s: %v", mf.Name, err)
	}
	fmt.Printf("✓ Firewall registered: %s (ID: %s)\n", mf.Name, device.ID)
	return nil
}

func applyChannel(ctx context.Context, st *store.Store, mc manifestChannel) error {
	if mc.Name == "" {
		return fmt.Errorf("channel: name is required")
	}
	kind := types.ChannelKind(mc.Kind)
	switch kind {
	case types.ChannelEmail, types.ChannelWebhook, types.ChannelSlack:
	default:
		return fmt.Errorf("channel %s: unknown kind %q", mc.Name, mc.Kind)
	}
	if len(mc.Config) == 0 {
		return fmt.Errorf("channel %s: config is required", mc.Name)
	}
	cfgJSON, err := json.Marshal(mc.Config)
	if err != nil {
		return fmt.Errorf("channel %s: encode config: %v", mc.Name, err)
	}

	ch := types.NotificationChannel{
		Name:    mc.Name,
		Kind:    kind,
		Enabled: mc.Enabled == nil || *mc.Enabled,
		Config:  cfgJSON,
	}

	rows, err := st.NotificationChannels(ctx)
	if err != nil {
		return fmt.Errorf("failed to list channels: %v", err)
	}
	for _, row := range rows {
		if row.Name == mc.Name {
			ch.ID = row.ID
			if _, err := st.UpdateNotificationChannel(ctx, ch); err != nil {
				return fmt.Errorf("failed to update channel %s: %v", mc.Name, err)
			}
			fmt.Printf("✓ Channel updated: %s (ID: %s)\n", mc.Name, row.ID)
			return nil
		}
	}

	created, err := st.CreateNotificationChannel(ctx, ch)
	if err != nil {
		return fmt.Errorf("failed to create channel %s: %v", mc.Name, err)
	}
	fmt.Printf("✓ Channel created: %s (ID: %s)\n", mc.Name, created.ID)
	return nil
}

func applyAlertConfig(ctx context.Context, st *store.Store, reg *registry.Registry, ma manifestAlertConfig) error {
	if ma.MetricType == "" {
		return fmt.Errorf("alert config: metric_type is required")
	}
	op := types.AlertOperator(ma.Operator)
	if !op.Valid() {
		return fmt.Errorf("alert config %s: unknown operator %q", ma.MetricType, ma.Operator)
	}
	sev := types.AlertSeverity(ma.Severity)
	if !sev.Valid() {
		return fmt.Errorf("alert config %s: unknown severity %q", ma.MetricType, ma.Severity)
	}

	var deviceID *string
	if ma.Device != "" {
		d, err := findFirewall(reg, ma.Device)
		if err != nil {
			return err
		}
		if d == nil {
			return fmt.Errorf("alert config %s: unknown firewall %q", ma.MetricType, ma.Device)
		}
		deviceID = &d.ID
	}

	existing, err := st.AlertConfigs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list alert configs: %v", err)
	}
	for _, ec := range existing {
		if sameTarget(ec.DeviceID, deviceID) && ec.MetricType == ma.MetricType &&
			ec.Operator == op && ec.ThresholdValue == ma.Threshold && ec.Severity == sev {
			fmt.Printf("Alert config already exists: %s %s %.1f (skipping)\n", ma.MetricType, op, ma.Threshold)
			return nil
		}
	}

	created, err := st.CreateAlertConfig(ctx, types.AlertConfig{
		DeviceID:       deviceID,
		MetricType:     ma.MetricType,
		Operator:       op,
		ThresholdValue: ma.Threshold,
		Severity:       sev,
		Channels:       ma.Channels,
		Enabled:        ma.Enabled == nil || *ma.Enabled,
	})
	if err != nil {
		return fmt.Errorf("failed to create alert config: %v", err)
	}
	fmt.Printf("✓ Alert config created: %s %s %.1f (ID: %s)\n", ma.MetricType, op, ma.Threshold, created.ID)
	return nil
}

// findFirewall returns the device with the given name, or nil.
func findFirewall(reg *registry.Registry, name string) (*types.Device, error) {
	devices, err := reg.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list firewalls: %v", err)
	}
	for _, d := range devices {
		if d.Name == name {
			return d, nil
		}
	}
	return nil, nil
}

func sameTarget(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
