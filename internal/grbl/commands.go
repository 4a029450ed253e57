package grbl

import (
	"log/slog"

	"github.com/cncbridge/gctrl/internal/core"
)

// handleCommand dispatches a client command to the matching protocol
// operation.
func (c *Controller) handleCommand(cmd core.Command) {
	switch cmd.Kind {
	case core.CmdLoad:
		c.cmdLoad(cmd)
	case core.CmdUnload:
		c.setWorkflow(core.WorkflowIdle)
		c.sender.Unload()
	case core.CmdStart:
		c.cmdStart()
	case core.CmdStop:
		c.cmdStop()
	case core.CmdPause:
		c.cmdPause()
	case core.CmdResume:
		c.cmdResume()
	case core.CmdReset:
		c.cmdReset()
	case core.CmdUnlock:
		c.writeLineLogged("$X")
	case core.CmdHoming:
		c.writeLineLogged("$H")
	case core.CmdCheck:
		c.writeLineLogged("$C")
	case core.CmdGcode:
		c.cmdGcode(cmd)
	case core.CmdLoadMacro:
		c.cmdLoadMacro(cmd)
	case core.CmdLoadFile:
		c.cmdLoadFile(cmd)
	default:
		c.logger.Error("unknown command", slog.Any("kind", cmd.Kind))
	}
}

func (c *Controller) cmdLoad(cmd core.Command) {
	err := c.sender.Load(cmd.Name, cmd.Gcode)
	c.setWorkflow(core.WorkflowIdle)
	if cmd.Callback != nil {
		cmd.Callback(core.LoadResult{Name: cmd.Name, Gcode: cmd.Gcode, Err: err})
	} else if err != nil {
		c.logger.Error("load failed", slog.String("name", cmd.Name), slog.String("error", err.Error()))
	}
}

func (c *Controller) cmdStart() {
	c.feeder.Clear()
	c.setWorkflow(core.WorkflowRunning)
	c.sender.Rewind()
	c.sendNext()
}

func (c *Controller) cmdStop() {
	c.setWorkflow(core.WorkflowIdle)
	c.sender.Rewind()

	c.mu.Lock()
	active := c.lastActiveState
	c.mu.Unlock()

	if active == "Run" || active == "Hold" {
		if active == "Run" {
			c.writeRealtime('!')
		} else {
			c.writeRealtime('~')
		}
		go func() {
			if c.sleep(c.ctx, stopSoftResetPause) {
				c.writeRealtime(0x18)
			}
		}()
		return
	}

	c.writeRealtime(0x18)
}

func (c *Controller) cmdPause() {
	c.mu.Lock()
	wasRunning := c.workflow == core.WorkflowRunning
	c.mu.Unlock()

	if wasRunning {
		c.setWorkflow(core.WorkflowPaused)
	}
	c.writeRealtime('!')
}

func (c *Controller) cmdResume() {
	c.writeRealtime('~')

	c.mu.Lock()
	wasPaused := c.workflow == core.WorkflowPaused
	c.mu.Unlock()

	if wasPaused {
		c.setWorkflow(core.WorkflowRunning)
		c.sendNext()
	}
}

func (c *Controller) cmdReset() {
	c.mu.Lock()
	idle := c.workflow == core.WorkflowIdle
	c.mu.Unlock()

	if !idle {
		c.setWorkflow(core.WorkflowIdle)
		c.sender.Rewind()
	}
	c.writeRealtime(0x18)
}

func (c *Controller) cmdGcode(cmd core.Command) {
	c.feeder.Feed(core.Item{Client: cmd.Client, Line: cmd.Line})
	if !c.feeder.IsPending() {
		c.feedNext()
	}
}

func (c *Controller) cmdLoadMacro(cmd core.Command) {
	if c.macros == nil {
		c.failLoad(cmd, core.ErrMacroNotFound)
		return
	}
	name, gcode, err := c.macros.Macro(cmd.MacroID)
	if err != nil {
		c.failLoad(cmd, err)
		return
	}
	c.cmdLoad(core.Command{Kind: core.CmdLoad, Name: name, Gcode: gcode, Callback: cmd.Callback})
}

func (c *Controller) cmdLoadFile(cmd core.Command) {
	if c.files == nil {
		c.failLoad(cmd, core.ErrNoFileReader)
		return
	}
	gcode, err := c.files.ReadFile(cmd.Path)
	if err != nil {
		c.failLoad(cmd, err)
		return
	}
	c.cmdLoad(core.Command{Kind: core.CmdLoad, Name: cmd.Path, Gcode: gcode, Callback: cmd.Callback})
}

func (c *Controller) failLoad(cmd core.Command, err error) {
	if cmd.Callback != nil {
		cmd.Callback(core.LoadResult{Err: err})
		return
	}
	c.logger.Error("load command failed", slog.String("error", err.Error()))
}

func (c *Controller) writeLineLogged(s string) {
	if err := c.writeLine(s); err != nil {
		c.logger.Warn("write failed", slog.String("line", s), slog.String("error", err.Error()))
	}
}
