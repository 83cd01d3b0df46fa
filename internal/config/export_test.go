package config

// ForceCheck runs one synchronous check that ignores the modification time.
func (w *Watcher) ForceCheck() bool { return w.check(true) }
