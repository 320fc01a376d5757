package app

import (
	"context"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	apperrors "github.com/GriffinCanCode/omnicall/internal/errors"
)

type firebaseKey struct {
	projectID   string
	credentials string
}

// firebaseApps shares one firebase.App per project and credentials file,
// so a Firestore store and FCM push normally use the same app.
type firebaseApps struct {
	apps map[firebaseKey]*firebase.App
}

func (f *firebaseApps) get(ctx context.Context, projectID, credentialsFile string) (*firebase.App, error) {
	key := firebaseKey{projectID: projectID, credentials: credentialsFile}
	if a, ok := f.apps[key]; ok {
		return a, nil
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	a, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidConfig, "initialize firebase").WithMetadata("project", projectID)
	}
	if f.apps == nil {
		f.apps = make(map[firebaseKey]*firebase.App)
	}
	f.apps[key] = a
	return a, nil
}
