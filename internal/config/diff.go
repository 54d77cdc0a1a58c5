package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied without a restart are tracked.
type ConfigDiff struct {
	JobsChanged     bool      // true if any job was added, removed or modified
	JobChanges      []JobDiff // per-job diffs
	LogLevelChanged bool
	NewLogLevel     LogLevel
}

// JobDiff describes what changed for a single job between two configs.
type JobDiff struct {
	Name     string
	Added    bool
	Removed  bool
	Modified bool
}

// Rerun reports whether the job must run again under the new config.
func (d JobDiff) Rerun() bool { return d.Added || d.Modified }

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Build job lookup maps keyed by name.
	oldJobs := make(map[string]*JobConfig, len(old.Jobs))
	for i := range old.Jobs {
		oldJobs[old.Jobs[i].Name] = &old.Jobs[i]
	}
	newJobs := make(map[string]*JobConfig, len(new.Jobs))
	for i := range new.Jobs {
		newJobs[new.Jobs[i].Name] = &new.Jobs[i]
	}

	// Keep the new config's job order so reruns happen in file order.
	for _, job := range new.Jobs {
		prev, exists := oldJobs[job.Name]
		switch {
		case !exists:
			d.JobChanges = append(d.JobChanges, JobDiff{Name: job.Name, Added: true})
		case *prev != job:
			d.JobChanges = append(d.JobChanges, JobDiff{Name: job.Name, Modified: true})
		}
	}

	// Detect removed jobs.
	for _, job := range old.Jobs {
		if _, exists := newJobs[job.Name]; !exists {
			d.JobChanges = append(d.JobChanges, JobDiff{Name: job.Name, Removed: true})
		}
	}

	d.JobsChanged = len(d.JobChanges) > 0
	return d
}

// Empty reports whether nothing applicable changed.
func (d ConfigDiff) Empty() bool { return !d.JobsChanged && !d.LogLevelChanged }

// RerunJobs returns the jobs of cfg that were added or modified, in cfg's
// order.
func (d ConfigDiff) RerunJobs(cfg *Config) []JobConfig {
	want := make(map[string]bool, len(d.JobChanges))
	for _, c := range d.JobChanges {
		if c.Rerun() {
			want[c.Name] = true
		}
	}
	var jobs []JobConfig
	for _, j := range cfg.Jobs {
		if want[j.Name] {
			jobs = append(jobs, j)
		}
	}
	return jobs
}
