// Package savi implements a two-party voice chat engine.
//
// Voice travels directly between the peers over UDP. Before that can
// happen the peers find each other through a signaling relay: one side
// hosts the relay and hands its address and key to the other side out of
// band, then both announce their UDP endpoints through the encrypted relay
// and connect.
//
// # Getting Started
//
//	opts := savi.NewOptions()
//	opts.Username = "ana"
//
//	s, err := savi.New(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	speaker, _ := device.NewSpeaker(opts.Config.PlaybackDevice())
//	_ = s.StartPlayback(speaker)
//
//	info, err := s.Host(ctx)
//	fmt.Println(info.ListenAddress, info.Key)
//
// The joining side calls Connect with the same address and key.
//
// # Data Flow
//
//	capture device → VoiceActivityEncoder → PeerTransport.Send
//	    ⇢ UDP ⇢ PeerTransport receive loop → ReorderBuffer → playback.Queue
//	    → Scheduler → playback device
//
// Runtime controls (SetThreshold, SetBitrate, SetVolume) take effect
// immediately and Intensity exposes the live capture level for meters.
package savi
