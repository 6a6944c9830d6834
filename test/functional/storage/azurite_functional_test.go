package storage_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/azurite"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/thand-io/azure-sdk/sdk/azcore"
	"github.com/thand-io/azure-sdk/sdk/azcore/to"
	"github.com/thand-io/azure-sdk/sdk/storage/azblob"
)

// azuriteImage is pinned so shared-key signatures and x-ms-version
// handling are tested against a known emulator release.
const azuriteImage = "mcr.microsoft.com/azure-storage/azurite:3.33.0"

func TestBlobStorageFunctional(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping functional test in short mode")
	}

	// Set a reasonable timeout for the entire test to prevent hanging
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// Start Azurite container
	azuriteContainer, err := azurite.Run(ctx, azuriteImage,
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort(nat.Port(azurite.BlobPort)).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "Failed to start Azurite container")
	defer func() {
		// Use a timeout context for container termination to prevent hanging
		terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := azuriteContainer.Terminate(terminateCtx); err != nil {
			t.Logf("Failed to terminate Azurite container: %v", err)
		}
	}()

	host, err := azuriteContainer.Host(ctx)
	require.NoError(t, err)

	mappedPort, err := azuriteContainer.MappedPort(ctx, nat.Port(azurite.BlobPort))
	require.NoError(t, err)

	// Azurite serves path-style URLs: the account name is the first path
	// segment rather than a subdomain.
	serviceURL := fmt.Sprintf("http://%s:%s/%s", host, mappedPort.Port(), azurite.AccountName)

	credential, err := azblob.NewSharedKeyCredential(azurite.AccountName, azurite.AccountKey)
	require.NoError(t, err, "Failed to build shared key credential")

	client, err := azblob.NewClientWithSharedKey(serviceURL, credential, nil)
	require.NoError(t, err, "Failed to create blob client")

	const containerName = "sdk-functional-data"

	t.Run("Create Container", func(t *testing.T) {
		created, err := client.CreateContainer(ctx, containerName, nil)
		require.NoError(t, err, "Failed to create container")
		assert.NotEmpty(t, created.ETag, "Container creation should return an ETag")

		// Creating the same container again must surface the conflict
		_, err = client.CreateContainer(ctx, containerName, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, azcore.ErrResourceExists), "Duplicate container should map to ErrResourceExists")

		var respErr *azcore.ResponseError
		require.ErrorAs(t, err, &respErr)
		assert.Equal(t, "ContainerAlreadyExists", respErr.ErrorCode)
	})

	t.Run("Upload And Download Round Trip", func(t *testing.T) {
		payload := []byte("signed with the well-known emulator account key")

		uploaded, err := client.UploadBuffer(ctx, containerName, "quickstart.txt", payload, &azblob.UploadBufferOptions{
			ContentType: "text/plain",
		})
		require.NoError(t, err, "Failed to upload blob")
		assert.NotEmpty(t, uploaded.ETag)

		download, err := client.DownloadStream(ctx, containerName, "quickstart.txt", nil)
		require.NoError(t, err, "Failed to download blob")
		defer download.Body.Close()

		body, err := io.ReadAll(download.Body)
		require.NoError(t, err)
		assert.Equal(t, payload, body, "Downloaded content should match the upload")
		assert.Equal(t, int64(len(payload)), download.ContentLength)
		assert.Equal(t, "text/plain", download.ContentType)
	})

	t.Run("Upload In Blocks", func(t *testing.T) {
		// Larger than the configured block size, with a partial final
		// block, so the stage/commit path is exercised end to end.
		payload := make([]byte, 5*64*1024+17)
		for i := range payload {
			payload[i] = byte(i % 251)
		}

		_, err := client.UploadBuffer(ctx, containerName, "large/dataset.bin", payload, &azblob.UploadBufferOptions{
			BlockSize:   64 * 1024,
			Concurrency: 4,
			ContentType: "application/octet-stream",
		})
		require.NoError(t, err, "Failed to upload blob in blocks")

		download, err := client.DownloadStream(ctx, containerName, "large/dataset.bin", nil)
		require.NoError(t, err)
		defer download.Body.Close()

		body, err := io.ReadAll(download.Body)
		require.NoError(t, err)
		require.Equal(t, len(payload), len(body), "Committed blob should have the full length")
		assert.True(t, bytes.Equal(payload, body), "Committed block content should match the upload")

		props, err := client.GetBlobProperties(ctx, containerName, "large/dataset.bin", nil)
		require.NoError(t, err)
		assert.Equal(t, int64(len(payload)), props.ContentLength)
		assert.Equal(t, "application/octet-stream", props.ContentType)
	})

	t.Run("Blob Properties And Metadata", func(t *testing.T) {
		payload := []byte(`{"rows": 42}`)

		_, err := client.UploadBuffer(ctx, containerName, "reports/summary.json", payload, &azblob.UploadBufferOptions{
			ContentType: "application/json",
			Metadata: map[string]string{
				"project": "billing",
				"owner":   "data-platform",
			},
		})
		require.NoError(t, err)

		props, err := client.GetBlobProperties(ctx, containerName, "reports/summary.json", nil)
		require.NoError(t, err, "Failed to read blob properties")
		assert.Equal(t, int64(len(payload)), props.ContentLength)
		assert.Equal(t, "application/json", props.ContentType)
		assert.Equal(t, "BlockBlob", props.BlobType)
		assert.NotEmpty(t, props.ETag)
		assert.NotNil(t, props.LastModified)
		assert.Equal(t, "billing", props.Metadata["project"])
		assert.Equal(t, "data-platform", props.Metadata["owner"])
	})

	t.Run("Ranged Download", func(t *testing.T) {
		payload := []byte("abcdefghijklmnopqrstuvwxyz0123456789")

		_, err := client.UploadBuffer(ctx, containerName, "ranged.txt", payload, nil)
		require.NoError(t, err)

		download, err := client.DownloadStream(ctx, containerName, "ranged.txt", &azblob.DownloadStreamOptions{
			Range: &azblob.HTTPRange{Offset: 8, Count: 8},
		})
		require.NoError(t, err, "Failed to download blob range")
		defer download.Body.Close()

		body, err := io.ReadAll(download.Body)
		require.NoError(t, err)
		assert.Equal(t, []byte("ijklmnop"), body)
		assert.Equal(t, fmt.Sprintf("bytes 8-15/%d", len(payload)), download.ContentRange)
	})

	t.Run("List Blobs With Prefix And Paging", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			name := fmt.Sprintf("logs/day-%d.log", i)
			_, err := client.UploadBuffer(ctx, containerName, name, []byte("log line\n"), nil)
			require.NoError(t, err, "Failed to upload %s", name)
		}

		pager := client.NewListBlobsPager(containerName, &azblob.ListBlobsOptions{
			Prefix:     to.Ptr("logs/"),
			MaxResults: to.Ptr(int32(2)),
		})

		var names []string
		pages := 0
		for pager.More() {
			page, err := pager.NextPage(ctx)
			require.NoError(t, err, "Failed to fetch blob listing page")
			assert.LessOrEqual(t, len(page.Blobs), 2, "Page should honor maxresults")
			for _, item := range page.Blobs {
				names = append(names, item.Name)
			}
			pages++
		}

		assert.GreaterOrEqual(t, pages, 3, "Five blobs at two per page need at least three pages")
		require.Len(t, names, 5)
		assert.IsIncreasing(t, names, "Listing should be in name order")
		for _, name := range names {
			assert.Contains(t, name, "logs/day-")
		}
	})

	t.Run("List Containers", func(t *testing.T) {
		_, err := client.CreateContainer(ctx, "sdk-functional-archive", nil)
		require.NoError(t, err)

		pager := client.NewListContainersPager(&azblob.ListContainersOptions{
			Prefix:     to.Ptr("sdk-functional-"),
			MaxResults: to.Ptr(int32(1)),
		})

		var names []string
		pages := 0
		for pager.More() {
			page, err := pager.NextPage(ctx)
			require.NoError(t, err, "Failed to fetch container listing page")
			for _, item := range page.Containers {
				names = append(names, item.Name)
			}
			pages++
		}

		assert.GreaterOrEqual(t, pages, 2, "Two containers at one per page need at least two pages")
		assert.Contains(t, names, containerName)
		assert.Contains(t, names, "sdk-functional-archive")
	})

	t.Run("Delete Blob", func(t *testing.T) {
		err := client.DeleteBlob(ctx, containerName, "ranged.txt", nil)
		require.NoError(t, err, "Failed to delete blob")

		err = client.DeleteBlob(ctx, containerName, "ranged.txt", nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, azcore.ErrResourceNotFound), "Deleting a missing blob should map to ErrResourceNotFound")

		var respErr *azcore.ResponseError
		require.ErrorAs(t, err, &respErr)
		assert.Equal(t, "BlobNotFound", respErr.ErrorCode)
	})

	t.Run("Delete Container", func(t *testing.T) {
		require.NoError(t, client.DeleteContainer(ctx, "sdk-functional-archive", nil))
		require.NoError(t, client.DeleteContainer(ctx, containerName, nil))

		err := client.DeleteContainer(ctx, containerName, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, azcore.ErrResourceNotFound), "Deleting a missing container should map to ErrResourceNotFound")
	})
}
