package bluedart_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/courier/pkg/courier/bluedart"
)

var testProfile = bluedart.Profile{LoginID: "BOM12345", LicenceKey: "lic&key", APIType: "S", Version: "1.3"}

func TestSOAPAPIClient_GetServicesForPincode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Ver1.10/ShippingAPI/Finder/ServiceFinderQuery.svc", r.URL.Path)
		assert.Equal(t, "http://tempuri.org/IServiceFinderQuery/GetServicesforPincode", r.Header.Get("SOAPAction"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "<tem:pinCode>110001</tem:pinCode>")
		assert.Contains(t, string(body), "<sapi:LicenceKey>lic&amp;key</sapi:LicenceKey>")

		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body>
			<GetServicesforPincodeResponse xmlns="http://tempuri.org/">
				<GetServicesforPincodeResult>
					<AreaCode>DEL</AreaCode><ApexInbound>Yes</ApexInbound><ApexOutbound>Yes</ApexOutbound>
					<GroundInbound>No</GroundInbound><GroundOutbound>Yes</GroundOutbound>
					<eTailCODAirInbound>Yes</eTailCODAirInbound><eTailCODGroundInbound>No</eTailCODGroundInbound>
					<IsError>false</IsError><PinCode>110001</PinCode>
				</GetServicesforPincodeResult>
			</GetServicesforPincodeResponse></s:Body></s:Envelope>`))
	}))
	defer srv.Close()

	c := bluedart.NewSOAPAPIClient(bluedart.SOAPAPIClientConfig{BaseURL: srv.URL})
	res, err := c.GetServicesForPincode(context.Background(), testProfile, "110001")

	require.NoError(t, err)
	assert.Equal(t, "DEL", res.AreaCode)
	assert.True(t, res.ApexInbound)
	assert.False(t, res.GroundInbound)
	assert.True(t, res.ApexCODInbound)
	assert.True(t, res.Served())
	assert.True(t, res.Pickable())
}

func TestSOAPAPIClient_GenerateWayBill(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Ver1.10/ShippingAPI/WayBill/WayBillGeneration.svc", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "<CreditReferenceNo>ORD-1</CreditReferenceNo>")
		assert.Contains(t, string(body), "<ActualWeight>1.20</ActualWeight>")

		_, _ = w.Write([]byte(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body>
			<GenerateWayBillResponse xmlns="http://tempuri.org/"><GenerateWayBillResult>
				<AWBNo>69700000011</AWBNo><DestinationArea>DEL</DestinationArea><IsError>false</IsError>
				<Status><WayBillGenerationStatus><StatusCode>Valid</StatusCode><StatusInformation>OK</StatusInformation></WayBillGenerationStatus></Status>
			</GenerateWayBillResult></GenerateWayBillResponse></s:Body></s:Envelope>`))
	}))
	defer srv.Close()

	c := bluedart.NewSOAPAPIClient(bluedart.SOAPAPIClientConfig{BaseURL: srv.URL})
	res, err := c.GenerateWayBill(context.Background(), testProfile, &bluedart.WayBillRequest{
		Services: bluedart.Services{CreditReferenceNo: "ORD-1", ActualWeight: 1.2, ProductCode: "A"},
	})

	require.NoError(t, err)
	assert.Equal(t, "69700000011", res.AWBNo)
	assert.False(t, res.IsError)
	require.Len(t, res.Status, 1)
	assert.Equal(t, "OK", res.Status[0].StatusInformation)
}

func TestSOAPAPIClient_FaultReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body>
			<s:Fault><faultcode>a:InvalidUser</faultcode><faultstring>Invalid LicenceKey</faultstring></s:Fault>
			</s:Body></s:Envelope>`))
	}))
	defer srv.Close()

	c := bluedart.NewSOAPAPIClient(bluedart.SOAPAPIClientConfig{BaseURL: srv.URL})
	res, err := c.CancelWayBill(context.Background(), testProfile, "697")

	assert.Nil(t, res)
	var apiErr *bluedart.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "a:InvalidUser", apiErr.Code)
	assert.Equal(t, "Invalid LicenceKey", apiErr.Description)
	assert.Contains(t, apiErr.Body, "faultstring")
}

func TestSOAPAPIClient_Track(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/servlet/RoutingServlet", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "697", q.Get("numbers"))
		assert.Equal(t, "BOM12345", q.Get("loginid"))

		_, _ = w.Write([]byte(`<?xml version="1.0"?><ShipmentData>
			<Shipment WaybillNo="697" RefNo="ORD-1">
				<Status>SHIPMENT DELIVERED</Status><StatusType>DL</StatusType>
				<Scans>
					<ScanDetail><Scan>SHIPMENT DELIVERED</Scan><ScanCode>DL</ScanCode><ScanType>DL</ScanType>
						<ScanDate>05-Mar-2026</ScanDate><ScanTime>13:05</ScanTime><ScannedLocation>CP</ScannedLocation></ScanDetail>
					<ScanDetail><Scan>OUT FOR DELIVERY</Scan><ScanCode>OD</ScanCode><ScanType>UD</ScanType>
						<ScanDate>05-Mar-2026</ScanDate><ScanTime>08:30</ScanTime><ScannedLocation>CP</ScannedLocation></ScanDetail>
				</Scans>
			</Shipment></ShipmentData>`))
	}))
	defer srv.Close()

	c := bluedart.NewSOAPAPIClient(bluedart.SOAPAPIClientConfig{BaseURL: srv.URL})
	res, err := c.Track(context.Background(), testProfile, "697")

	require.NoError(t, err)
	require.Len(t, res.Shipments, 1)
	s := res.Shipments[0]
	assert.Equal(t, "697", s.WaybillNo)
	assert.Equal(t, "ORD-1", s.RefNo)
	require.Len(t, s.Scans, 2)
	assert.Equal(t, "DL", s.Scans[0].ScanCode)
	assert.Equal(t, "08:30", s.Scans[1].ScanTime)
}
