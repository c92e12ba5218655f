package am

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/robertclapp/accessai-sub004/errors"
	"github.com/robertclapp/accessai-sub004/logger"
)

// createBackup creates rotating backups (.back1, .back2, .back3) before modifying config
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil // No file to backup
	}

	// Rotate backups: .back3 -> delete, .back2 -> .back3, .back1 -> .back2, current -> .back1
	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		// Not worth failing the save over
		logger.Warnw("Failed to delete old config backup",
			"path", back3,
			"error", err)
	}

	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}

	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}

	if err := os.WriteFile(back1, content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}

	return nil
}

// WriteDefaultConfig writes the default configuration as TOML to configPath.
// An existing file is only replaced when force is set, and is backed up first.
func WriteDefaultConfig(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return errors.WithHint(
			errors.Newf("config file %s already exists", configPath),
			"pass --force to overwrite it, the current file is kept as .back1",
		)
	}

	data, err := toml.Marshal(DefaultConfig())
	if err != nil {
		return errors.Wrap(err, "failed to marshal default config")
	}
	return saveConfig(configPath, data)
}

// SetJobOverride records a per-job override in configPath, creating the file if needed.
// A nil enabled or empty schedule leaves that part of an existing override untouched.
func SetJobOverride(configPath, jobID string, enabled *bool, schedule string) error {
	if jobID == "" {
		return errors.NewInvalidRequestError("job id is required")
	}

	config, err := readConfigMap(configPath)
	if err != nil {
		return err
	}

	scheduler, ok := config["scheduler"].(map[string]interface{})
	if !ok {
		scheduler = make(map[string]interface{})
	}
	jobs, _ := scheduler["jobs"].([]interface{})

	var entry map[string]interface{}
	for _, j := range jobs {
		if m, ok := j.(map[string]interface{}); ok && m["id"] == jobID {
			entry = m
			break
		}
	}
	if entry == nil {
		entry = map[string]interface{}{"id": jobID}
		jobs = append(jobs, entry)
	}
	if enabled != nil {
		entry["enabled"] = *enabled
	}
	if schedule != "" {
		entry["schedule"] = schedule
	}

	scheduler["jobs"] = jobs
	config["scheduler"] = scheduler

	data, err := toml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}
	return saveConfig(configPath, data)
}

// readConfigMap loads configPath as a generic map, or an empty map if it does not exist
func readConfigMap(configPath string) (map[string]interface{}, error) {
	config := make(map[string]interface{})
	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", configPath)
	}
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", configPath)
	}
	return config, nil
}

// saveConfig writes data to configPath with backup
func saveConfig(configPath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(configPath), DefaultDirPermissions); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	// Mark this as our own write to prevent reload loops
	globalWatcherMu.Lock()
	if globalWatcher != nil {
		globalWatcher.MarkOwnWrite()
	}
	globalWatcherMu.Unlock()

	if err := os.WriteFile(configPath, data, DefaultFilePermissions); err != nil {
		return errors.Wrapf(err, "failed to write %s", configPath)
	}
	return nil
}
