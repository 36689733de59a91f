// Package lua runs Lua scripts as buffer-update subscribers.
//
// A Subscriber owns a sandboxed gopher-lua State and behaves like any other
// channel: the hub queues notifications for it and each one calls the
// script's global on_buf_event(name, args). The script reaches the host
// through the bufstream module:
//
//	local bs = require("bufstream")
//
//	function on_buf_event(name, args)
//	    if name == "nvim_buf_update" then
//	        print("buffer", args[1], "lines", args[3], "to", args[4])
//	    end
//	end
//
//	bs.attach(1, true)
//
// Module functions: channel_id(), attach(buf, send_buffer), detach(buf),
// get_lines(buf, start, end), set_lines(buf, start, end, lines),
// line_count(buf) and changedtick(buf).
//
// # Sandbox
//
// Only the base, package, table, string and math libraries are opened.
// dofile, loadfile, load and loadstring are removed, require only returns
// whitelisted modules, and print writes to the subscriber's logger. Every
// script run is bounded by an execution deadline.
package lua
