/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package server

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/microsoft/debugbridge/internal/profiles"
	"github.com/microsoft/debugbridge/internal/protocol"
)

// ProfilesSource watches the profiles file while clients are connected and announces reloads.
// Changes made while nobody was watching are announced when the first client connects.
func ProfilesSource(store *profiles.Store, log logr.Logger) EventSource {
	return func(ctx context.Context, emit func(event string, payload any)) {
		announce := func(names []string) {
			emit(protocol.EventProfilesChanged, protocol.ProfilesChangedEvent{Profiles: names})
		}

		changed, reloadErr := store.Reload()
		if reloadErr != nil {
			log.Error(reloadErr, "Could not reload profiles, keeping the previous ones")
		} else if changed {
			announce(store.Names())
		}

		if watchErr := store.Watch(ctx, log, announce); watchErr != nil {
			log.Error(watchErr, "Profiles file will not be watched for changes")
		}
	}
}
