package audio

// BreakSink closes the file under a running channel so the next write fails.
func (c *Channel) BreakSink() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.file.Close()
}
