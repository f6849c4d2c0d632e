/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

/*
Package dap implements the bridge's debug host on top of a Debug Adapter Protocol adapter.

The AdapterHost owns at most one debug session at a time. A session is a DAP connection to
an adapter (either an adapter process speaking DAP over stdio, or an adapter already listening
on a TCP address), initialized and launched (or attached) using a LaunchConfig.

Adapter events are processed in order on a per-session goroutine, decoupled from the connection
read loop by an unbounded queue. This lets event processing issue further requests to the adapter
(for example, reading the top stack frame when the target stops) without stalling response delivery.

Source and data breakpoints set while no session is active are remembered and applied to the next
session before its configuration phase completes.
*/
package dap
