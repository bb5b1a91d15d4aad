// obligatory // comment

/*
Package ioapp provides the lifecycle of a long-running process built on a [reactor.Context]: a
network service, a daemon, or a CLI tool that waits on timers and sockets.

Broadly, the tools belong to a few distinct groups:

- Application lifecycle: [App], [New], [Hooks], [State]
- Concurrency policies, selected at compile time: see package [ccy]
- Signal handling: [SignalManager], [ListenSignals], [SignalListenerApp]
- Worker tracking: [TaskGroup], [TaskInfo]

Datagram sockets and timers live in the dgram and timer packages, and register their operations
against the same reactor.Context that the App runs.

# Lifecycle

An [App] moves through the [State] values Created, Prepared, Running, ExitRequested and Stopped,
in that order. The app holds a keep-alive guard on its reactor from construction until the first
call to [App.RequestExit], so its run loops keep going even while there is nothing to do. Once
exit is requested, [Hooks.OnExit] is called exactly once on the reactor, and the loops return as
soon as the remaining work has drained.

Who runs the loop depends on the policy P of an App[P]. Under ccy.None, the caller does, via
[App.Run]. Under every other policy the app starts its own goroutines with [App.Launch], and
[App.Join] waits for them.

# Signal handling

The general idea behind signal handling via [SignalManager] is that signals are mostly user-defined,
trigger exactly once, and are hierarchical (i.e. triggering a signal in a child SignalManager does
not affect the parent).

Each App has a SignalManager, on which the [Exit] signal is triggered after OnExit returns. OS
signals are connected to an app with [ListenSignals], or by constructing a [SignalListenerApp].
*/
package ioapp
