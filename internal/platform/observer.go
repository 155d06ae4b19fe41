package platform

import (
	"enginehost/internal/binding"
	"enginehost/internal/grant"
	"enginehost/internal/registry"
)

// Observers fans every hook out to each observer in order.
func Observers(list ...Observer) Observer {
	return Observer{
		WorkerCreated: func(k registry.Key) {
			for _, o := range list {
				if o.WorkerCreated != nil {
					o.WorkerCreated(k)
				}
			}
		},
		WorkerDestroyed: func(k registry.Key) {
			for _, o := range list {
				if o.WorkerDestroyed != nil {
					o.WorkerDestroyed(k)
				}
			}
		},
		WorkerRestarted: func(k registry.Key) {
			for _, o := range list {
				if o.WorkerRestarted != nil {
					o.WorkerRestarted(k)
				}
			}
		},
		BindingTransition: func(from, to binding.State) {
			for _, o := range list {
				if o.BindingTransition != nil {
					o.BindingTransition(from, to)
				}
			}
		},
		Grant: grant.Observer{
			ChannelRegistered: func(ch grant.Channel) {
				for _, o := range list {
					if o.Grant.ChannelRegistered != nil {
						o.Grant.ChannelRegistered(ch)
					}
				}
			},
			Promoted: func(d grant.Descriptor) {
				for _, o := range list {
					if o.Grant.Promoted != nil {
						o.Grant.Promoted(d)
					}
				}
			},
			Demoted: func() {
				for _, o := range list {
					if o.Grant.Demoted != nil {
						o.Grant.Demoted()
					}
				}
			},
			Denied: func(err error) {
				for _, o := range list {
					if o.Grant.Denied != nil {
						o.Grant.Denied(err)
					}
				}
			},
		},
	}
}
