package ecs

import "sync"

// maxPooledCommands bounds the capacity a pooled buffer may keep; larger buffers are left to the GC.
const maxPooledCommands = 4096

// CommandBuffer is the queue behind a Commands value. Commands leave it in push order.
type CommandBuffer struct {
	commands []Command
}

// CommandMark is a queue position taken before a system runs. Rolling back to it discards what the
// run queued.
type CommandMark int

func NewCommandBuffer() *CommandBuffer {
	return &CommandBuffer{}
}

func (b *CommandBuffer) Len() int {
	return len(b.commands)
}

// Push queues cmd. Nil commands are ignored.
func (b *CommandBuffer) Push(cmd Command) {
	if cmd == nil {
		return
	}
	b.commands = append(b.commands, cmd)
}

// Drain hands out the queued commands and leaves the buffer empty.
func (b *CommandBuffer) Drain() []Command {
	drained := b.commands
	b.commands = nil
	return drained
}

// Mark returns the current end of the queue.
func (b *CommandBuffer) Mark() CommandMark {
	return CommandMark(len(b.commands))
}

// Rollback discards the commands pushed after m and reports how many were dropped. Commands
// already drained are out of reach.
func (b *CommandBuffer) Rollback(m CommandMark) int {
	keep := max(int(m), 0)
	if keep >= len(b.commands) {
		return 0
	}
	dropped := len(b.commands) - keep
	clear(b.commands[keep:])
	b.commands = b.commands[:keep]
	return dropped
}

// CommandBufferPool recycles buffers between command queues.
type CommandBufferPool struct {
	pool sync.Pool
}

func NewCommandBufferPool() *CommandBufferPool {
	p := &CommandBufferPool{}
	p.pool.New = func() any { return NewCommandBuffer() }
	return p
}

func (p *CommandBufferPool) Get() *CommandBuffer {
	return p.pool.Get().(*CommandBuffer)
}

// Put empties buf and keeps it for reuse unless it grew too large.
func (p *CommandBufferPool) Put(buf *CommandBuffer) {
	if buf == nil || cap(buf.commands) > maxPooledCommands {
		return
	}
	clear(buf.commands)
	buf.commands = buf.commands[:0]
	p.pool.Put(buf)
}
